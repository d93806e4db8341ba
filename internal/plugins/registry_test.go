package plugins

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func ready(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	r.MarkReady()
	return r
}

func echoPlugin(name string) Plugin {
	return Plugin{
		Name:        name,
		Description: "echoes its input",
		Version:     "1.0.0",
		Enabled:     true,
		Exec: func(ctx context.Context, input string, cc CallContext) (Result, error) {
			return success("echo: "+input, nil), nil
		},
	}
}

func TestRegisterValidation(t *testing.T) {
	r := ready(t)

	tests := []struct {
		name   string
		plugin Plugin
		wantOK bool
	}{
		{"valid", echoPlugin("echo"), true},
		{"empty name", echoPlugin("   "), false},
		{"no exec", Plugin{Name: "x", Description: "d"}, false},
		{"no description", Plugin{Name: "x", Exec: echoPlugin("x").Exec}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.plugin)
			if (err == nil) != tt.wantOK {
				t.Errorf("Register() error = %v, wantOK %v", err, tt.wantOK)
			}
		})
	}
}

func TestRegisterCollisionLastWins(t *testing.T) {
	r := ready(t)

	first := echoPlugin("dup")
	first.Version = "1.0.0"
	second := Plugin{
		Name:        "DUP",
		Description: "replacement",
		Version:     "2.0.0",
		Enabled:     true,
		Exec: func(ctx context.Context, input string, cc CallContext) (Result, error) {
			return success("second", nil), nil
		},
	}

	if err := r.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(second); err != nil {
		t.Fatal(err)
	}

	if got := len(r.Names()); got != 1 {
		t.Fatalf("registry has %d entries, want 1", got)
	}
	res := r.Execute(context.Background(), "dup", "", CallContext{})
	if res.Message != "second" {
		t.Errorf("collision kept the first registration: %+v", res)
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	r := ready(t)
	if err := r.Register(echoPlugin("calculator")); err != nil {
		t.Fatal(err)
	}

	res := r.Execute(context.Background(), "Calculator", "2+2", CallContext{})
	if !res.Success {
		t.Fatalf("mixed-case lookup failed: %+v", res)
	}
}

func TestExecuteUnknownEnumeratesNames(t *testing.T) {
	r := ready(t)
	r.Register(echoPlugin("alpha"))
	r.Register(echoPlugin("beta"))

	res := r.Execute(context.Background(), "gamma", "", CallContext{})
	if res.Success {
		t.Fatal("unknown plugin must fail")
	}
	if !strings.Contains(res.Error, "alpha") || !strings.Contains(res.Error, "beta") {
		t.Errorf("failure should enumerate known names, got %q", res.Error)
	}
}

func TestExecuteDisabled(t *testing.T) {
	r := ready(t)
	p := echoPlugin("sleepy")
	p.Enabled = false
	r.Register(p)

	res := r.Execute(context.Background(), "sleepy", "", CallContext{})
	if res.Success {
		t.Fatal("disabled plugin must not execute")
	}
	if !strings.Contains(res.Error, "disabled") {
		t.Errorf("want a disabled failure, got %q", res.Error)
	}
}

func TestExecuteConvertsErrorsAndPanics(t *testing.T) {
	r := ready(t)
	r.Register(Plugin{
		Name:        "broken",
		Description: "always errors",
		Enabled:     true,
		Exec: func(ctx context.Context, input string, cc CallContext) (Result, error) {
			return Result{}, errors.New("boom")
		},
	})
	r.Register(Plugin{
		Name:        "panicky",
		Description: "always panics",
		Enabled:     true,
		Exec: func(ctx context.Context, input string, cc CallContext) (Result, error) {
			panic("unhinged")
		},
	})

	for _, name := range []string{"broken", "panicky"} {
		res := r.Execute(context.Background(), name, "", CallContext{})
		if res.Success {
			t.Errorf("%s: want failure result, got success", name)
		}
		if res.Error == "" {
			t.Errorf("%s: failure result has no error text", name)
		}
	}

	// The registry stays usable after a panic.
	r.Register(echoPlugin("after"))
	if res := r.Execute(context.Background(), "after", "hi", CallContext{}); !res.Success {
		t.Errorf("registry wedged after panic: %+v", res)
	}
}

func TestExecuteWaitsForReadiness(t *testing.T) {
	r := NewRegistry()
	r.Register(echoPlugin("echo"))

	done := make(chan Result, 1)
	go func() {
		done <- r.Execute(context.Background(), "echo", "hi", CallContext{})
	}()

	select {
	case res := <-done:
		t.Fatalf("Execute returned before MarkReady: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	r.MarkReady()
	select {
	case res := <-done:
		if !res.Success {
			t.Errorf("Execute after MarkReady failed: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute never unblocked after MarkReady")
	}
}

func TestExecuteReadinessRespectsContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := r.Execute(ctx, "anything", "", CallContext{})
	if res.Success {
		t.Fatal("Execute on an unready registry must fail when the context expires")
	}
}

func TestCatalog(t *testing.T) {
	r := ready(t)
	if got := r.Catalog(); got != "No plugins are currently available." {
		t.Errorf("empty catalog sentinel wrong: %q", got)
	}

	r.Register(Plugin{Name: "Weather", Description: "current conditions", Enabled: true, Exec: echoPlugin("x").Exec})
	r.Register(Plugin{Name: "calculator", Description: "arithmetic", Enabled: true, Exec: echoPlugin("x").Exec})

	want := "- calculator: arithmetic\n- weather: current conditions"
	if got := r.Catalog(); got != want {
		t.Errorf("catalog = %q, want %q", got, want)
	}
}

func TestSetEnabled(t *testing.T) {
	r := ready(t)
	r.Register(echoPlugin("toggle"))

	if !r.SetEnabled("Toggle", false) {
		t.Fatal("SetEnabled should find the plugin case-insensitively")
	}
	if res := r.Execute(context.Background(), "toggle", "", CallContext{}); res.Success {
		t.Error("disabled plugin executed")
	}
	r.SetEnabled("toggle", true)
	if res := r.Execute(context.Background(), "toggle", "", CallContext{}); !res.Success {
		t.Errorf("re-enabled plugin failed: %+v", res)
	}
	if r.SetEnabled("ghost", false) {
		t.Error("SetEnabled on unknown name should report false")
	}
}
