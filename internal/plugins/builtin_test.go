package plugins

import (
	"context"
	"strings"
	"testing"
)

func builtinsRegistry(t *testing.T, disabled ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := RegisterBuiltins(r, disabled); err != nil {
		t.Fatal(err)
	}
	r.MarkReady()
	return r
}

func TestCalculator(t *testing.T) {
	r := builtinsRegistry(t)

	res := r.Execute(context.Background(), "Calculator", "2+2", CallContext{})
	if !res.Success {
		t.Fatalf("calculator failed: %+v", res)
	}
	if got, ok := res.Data["result"].(float64); !ok || got != 4 {
		t.Errorf("data.result = %v, want 4", res.Data["result"])
	}

	tests := []struct {
		expr   string
		want   float64
		wantOK bool
	}{
		{"(3*7) + 1", 22, true},
		{"10 / 4.0", 2.5, true},
		{"100 % 7", 2, true},
		{"", 0, false},
		{"2+2; panic(1)", 0, false},
		{`len("x")`, 0, false},
		{"2 +", 0, false},
	}
	for _, tt := range tests {
		res := r.Execute(context.Background(), "calculator", tt.expr, CallContext{})
		if res.Success != tt.wantOK {
			t.Errorf("%q: success = %v, want %v (%+v)", tt.expr, res.Success, tt.wantOK, res)
			continue
		}
		if tt.wantOK {
			if got := res.Data["result"].(float64); got != tt.want {
				t.Errorf("%q = %v, want %v", tt.expr, got, tt.want)
			}
		}
	}
}

func TestNotesLifecycle(t *testing.T) {
	r := builtinsRegistry(t)
	ctx := context.Background()

	if res := r.Execute(ctx, "notes", "list", CallContext{}); !res.Success || !strings.Contains(res.Message, "No notes") {
		t.Fatalf("empty list: %+v", res)
	}
	if res := r.Execute(ctx, "notes", "add buy milk", CallContext{}); !res.Success {
		t.Fatalf("add: %+v", res)
	}
	res := r.Execute(ctx, "notes", "list", CallContext{})
	notes, ok := res.Data["notes"].([]string)
	if !ok || len(notes) != 1 || notes[0] != "buy milk" {
		t.Fatalf("list after add: %+v", res)
	}
	if res := r.Execute(ctx, "notes", "clear", CallContext{}); !res.Success {
		t.Fatalf("clear: %+v", res)
	}
	if res := r.Execute(ctx, "notes", "frobnicate", CallContext{}); res.Success {
		t.Error("unknown verb should fail")
	}
}

func TestTasksLifecycle(t *testing.T) {
	r := builtinsRegistry(t)
	ctx := context.Background()

	r.Execute(ctx, "tasks", "add water plants", CallContext{})
	r.Execute(ctx, "tasks", "add call mom", CallContext{})

	if res := r.Execute(ctx, "tasks", "done 1", CallContext{}); !res.Success {
		t.Fatalf("done: %+v", res)
	}
	res := r.Execute(ctx, "tasks", "list", CallContext{})
	if !strings.Contains(res.Message, "2 tasks, 1 open") {
		t.Errorf("list message: %q", res.Message)
	}
	if res := r.Execute(ctx, "tasks", "done 9", CallContext{}); res.Success {
		t.Error("out-of-range done should fail")
	}
}

func TestTimerAndReminder(t *testing.T) {
	r := builtinsRegistry(t)
	ctx := context.Background()

	res := r.Execute(ctx, "timer", "1h", CallContext{})
	if !res.Success || res.Data["id"] == "" {
		t.Fatalf("timer: %+v", res)
	}
	if res := r.Execute(ctx, "timer", "soon", CallContext{}); res.Success {
		t.Error("bad duration should fail")
	}

	res = r.Execute(ctx, "reminder", "30m stand up", CallContext{})
	if !res.Success || res.Data["text"] != "stand up" {
		t.Fatalf("reminder: %+v", res)
	}
	if res := r.Execute(ctx, "reminder", "stand up 30m", CallContext{}); res.Success {
		t.Error("reminder without leading duration should fail")
	}
}

func TestWeatherRequiresLocation(t *testing.T) {
	r := builtinsRegistry(t)

	if res := r.Execute(context.Background(), "weather", "  ", CallContext{}); res.Success {
		t.Error("weather without a location should fail")
	}
}

func TestDisabledBuiltins(t *testing.T) {
	r := builtinsRegistry(t, "Weather")

	res := r.Execute(context.Background(), "weather", "Tokyo", CallContext{})
	if res.Success || !strings.Contains(res.Error, "disabled") {
		t.Fatalf("disabled builtin should refuse execution: %+v", res)
	}

	// It still shows up in the catalog so the user can be told it exists.
	if !strings.Contains(r.Catalog(), "weather") {
		t.Error("disabled plugin missing from catalog")
	}
}
