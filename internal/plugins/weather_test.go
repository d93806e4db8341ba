package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func weatherUnderTest(t *testing.T, handler http.Handler) *weatherService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &weatherService{
		geocodeURL:  srv.URL + "/v1/search",
		forecastURL: srv.URL + "/v1/forecast",
		client:      srv.Client(),
	}
}

func TestWeatherCurrentConditions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("name"); got != "Berlin" {
			t.Errorf("geocode name = %q", got)
		}
		fmt.Fprint(w, `{"results":[{"name":"Berlin","country":"Germany","latitude":52.52,"longitude":13.41}]}`)
	})
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("latitude") != "52.5200" || q.Get("longitude") != "13.4100" {
			t.Errorf("forecast coords = %s,%s", q.Get("latitude"), q.Get("longitude"))
		}
		if !strings.Contains(q.Get("current"), "temperature_2m") {
			t.Errorf("forecast current fields = %q", q.Get("current"))
		}
		fmt.Fprint(w, `{"current":{"temperature_2m":18.3,"relative_humidity_2m":61,"weather_code":2,"wind_speed_10m":12.5}}`)
	})
	s := weatherUnderTest(t, mux)

	res, err := s.exec(context.Background(), "Berlin", CallContext{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("weather failed: %+v", res)
	}
	for _, want := range []string{"18.3°C", "partly cloudy", "Berlin, Germany"} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("message %q missing %q", res.Message, want)
		}
	}
	if res.Data["temperature"] != 18.3 || res.Data["condition"] != "partly cloudy" {
		t.Errorf("data = %v", res.Data)
	}
}

func TestWeatherUnknownLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	})
	s := weatherUnderTest(t, mux)

	res, err := s.exec(context.Background(), "Atlantis", CallContext{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Error, "Atlantis") {
		t.Errorf("unknown location should fail naming it: %+v", res)
	}
}

func TestWeatherProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	s := &weatherService{
		geocodeURL:  base + "/v1/search",
		forecastURL: base + "/v1/forecast",
		client:      http.DefaultClient,
	}

	res, err := s.exec(context.Background(), "Berlin", CallContext{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Error, "weather lookup failed") {
		t.Errorf("unreachable provider should degrade to a failure result: %+v", res)
	}
}

func TestDescribeWeatherCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "clear"},
		{3, "overcast"},
		{63, "raining"},
		{73, "snowing"},
		{96, "stormy"},
	}
	for _, tt := range tests {
		if got := describeWeatherCode(tt.code); got != tt.want {
			t.Errorf("describeWeatherCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
