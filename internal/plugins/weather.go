package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// weatherService answers weather queries from the Open-Meteo public API: a
// geocoding call resolves the location, a forecast call fetches current
// conditions. Both endpoints are keyless.
type weatherService struct {
	geocodeURL  string
	forecastURL string
	client      *http.Client
}

func newWeatherService() *weatherService {
	return &weatherService{
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type geocodeHit struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type currentConditions struct {
	Temperature float64 `json:"temperature_2m"`
	Humidity    float64 `json:"relative_humidity_2m"`
	WindSpeed   float64 `json:"wind_speed_10m"`
	WeatherCode int     `json:"weather_code"`
}

func (s *weatherService) exec(ctx context.Context, input string, cc CallContext) (Result, error) {
	location := strings.TrimSpace(input)
	if location == "" {
		return failure("no location given"), nil
	}

	hit, err := s.geocode(ctx, location)
	if err != nil {
		return failure("weather lookup failed: %v", err), nil
	}
	if hit == nil {
		return failure("I couldn't find a place called %q", location), nil
	}

	cur, err := s.current(ctx, hit.Latitude, hit.Longitude)
	if err != nil {
		return failure("weather lookup failed: %v", err), nil
	}

	condition := describeWeatherCode(cur.WeatherCode)
	place := hit.Name
	if hit.Country != "" {
		place += ", " + hit.Country
	}
	return success(fmt.Sprintf("%.1f°C and %s in %s.", cur.Temperature, condition, place), map[string]any{
		"location":    place,
		"temperature": cur.Temperature,
		"humidity":    cur.Humidity,
		"wind_kmh":    cur.WindSpeed,
		"condition":   condition,
		"code":        cur.WeatherCode,
	}), nil
}

func (s *weatherService) geocode(ctx context.Context, name string) (*geocodeHit, error) {
	var payload struct {
		Results []geocodeHit `json:"results"`
	}
	q := url.Values{"name": {name}, "count": {"1"}}
	if err := s.getJSON(ctx, s.geocodeURL+"?"+q.Encode(), &payload); err != nil {
		return nil, err
	}
	if len(payload.Results) == 0 {
		return nil, nil
	}
	return &payload.Results[0], nil
}

func (s *weatherService) current(ctx context.Context, lat, lon float64) (*currentConditions, error) {
	var payload struct {
		Current currentConditions `json:"current"`
	}
	q := url.Values{
		"latitude":  {fmt.Sprintf("%.4f", lat)},
		"longitude": {fmt.Sprintf("%.4f", lon)},
		"current":   {"temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m"},
	}
	if err := s.getJSON(ctx, s.forecastURL+"?"+q.Encode(), &payload); err != nil {
		return nil, err
	}
	return &payload.Current, nil
}

func (s *weatherService) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

// describeWeatherCode maps WMO weather interpretation codes to speech.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "foggy"
	case code >= 51 && code <= 57:
		return "drizzling"
	case code >= 61 && code <= 67:
		return "raining"
	case code >= 71 && code <= 77:
		return "snowing"
	case code >= 80 && code <= 82:
		return "showery"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "stormy"
	}
	return fmt.Sprintf("weather code %d", code)
}
