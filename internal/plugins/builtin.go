package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/traefik/yaegi/interp"

	"seven/internal/logging"
)

// RegisterBuiltins registers the built-in capability set, skipping any name
// on the disabled list (registered, but refusing execution, so the user can
// be told the capability exists).
func RegisterBuiltins(r *Registry, disabled []string) error {
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[strings.ToLower(strings.TrimSpace(name))] = true
	}

	notes := &noteStore{}
	tasks := &taskStore{}
	timers := &timerStore{}
	weather := newWeatherService()

	builtins := []Plugin{
		{
			Name:        "calculator",
			Description: "Evaluates an arithmetic expression, e.g. \"2+2\" or \"(3*7)/2\"",
			Version:     "1.0.0",
			Exec:        evalExpression,
		},
		{
			Name:        "notes",
			Description: "Saves and lists short notes; input \"add <text>\", \"list\" or \"clear\"",
			Version:     "1.0.0",
			Exec:        notes.exec,
		},
		{
			Name:        "weather",
			Description: "Reports current weather conditions for a named location",
			Version:     "1.0.0",
			Exec:        weather.exec,
		},
		{
			Name:        "timer",
			Description: "Starts a countdown timer; input is a duration like \"5m\" or \"90s\"",
			Version:     "1.0.0",
			Exec:        timers.startTimer,
		},
		{
			Name:        "reminder",
			Description: "Schedules a reminder; input \"<duration> <text>\", e.g. \"10m stand up\"",
			Version:     "1.0.0",
			Exec:        timers.startReminder,
		},
		{
			Name:        "tasks",
			Description: "Manages a task list; input \"add <text>\", \"done <n>\", \"list\" or \"clear\"",
			Version:     "1.0.0",
			Exec:        tasks.exec,
		},
	}

	for i := range builtins {
		builtins[i].Enabled = !off[builtins[i].Name]
		if err := r.Register(builtins[i]); err != nil {
			return fmt.Errorf("register %s: %w", builtins[i].Name, err)
		}
	}
	return nil
}

// exprPattern admits only arithmetic: digits, operators, parens, whitespace.
var exprPattern = regexp.MustCompile(`^[0-9+\-*/%().\s]+$`)

// evalExpression evaluates an arithmetic expression with the embedded
// interpreter. The character whitelist keeps it to arithmetic; the
// interpreter does the actual parsing and precedence.
func evalExpression(ctx context.Context, input string, cc CallContext) (Result, error) {
	expr := strings.TrimSpace(input)
	if expr == "" {
		return failure("no expression given"), nil
	}
	if !exprPattern.MatchString(expr) {
		return failure("expression contains unsupported characters: %q", expr), nil
	}

	i := interp.New(interp.Options{})
	v, err := i.Eval(expr)
	if err != nil {
		return failure("could not evaluate %q: %v", expr, err), nil
	}

	result, ok := numeric(v)
	if !ok {
		return failure("%q did not evaluate to a number", expr), nil
	}
	return success(fmt.Sprintf("%s = %s", expr, formatNumber(result)), map[string]any{
		"expression": expr,
		"result":     result,
	}), nil
}

func numeric(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// noteStore is the notes plugin's in-memory state.
type noteStore struct {
	mu    sync.Mutex
	notes []string
}

func (s *noteStore) exec(ctx context.Context, input string, cc CallContext) (Result, error) {
	verb, rest := splitVerb(input)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch verb {
	case "add":
		if rest == "" {
			return failure("nothing to note"), nil
		}
		s.notes = append(s.notes, rest)
		return success(fmt.Sprintf("Noted: %s", rest), map[string]any{"count": len(s.notes)}), nil
	case "list", "":
		if len(s.notes) == 0 {
			return success("No notes yet.", nil), nil
		}
		return success(fmt.Sprintf("You have %d notes.", len(s.notes)), map[string]any{
			"notes": append([]string(nil), s.notes...),
		}), nil
	case "clear":
		n := len(s.notes)
		s.notes = nil
		return success(fmt.Sprintf("Cleared %d notes.", n), nil), nil
	}
	return failure("unknown notes command %q (try add, list, clear)", verb), nil
}

// taskStore is the tasks plugin's in-memory state.
type taskStore struct {
	mu    sync.Mutex
	tasks []task
}

type task struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

func (s *taskStore) exec(ctx context.Context, input string, cc CallContext) (Result, error) {
	verb, rest := splitVerb(input)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch verb {
	case "add":
		if rest == "" {
			return failure("no task text"), nil
		}
		s.tasks = append(s.tasks, task{Text: rest})
		return success(fmt.Sprintf("Added task %d: %s", len(s.tasks), rest), map[string]any{
			"count": len(s.tasks),
		}), nil
	case "done":
		var n int
		if _, err := fmt.Sscanf(rest, "%d", &n); err != nil || n < 1 || n > len(s.tasks) {
			return failure("no task numbered %q", rest), nil
		}
		s.tasks[n-1].Done = true
		return success(fmt.Sprintf("Marked task %d done: %s", n, s.tasks[n-1].Text), nil), nil
	case "list", "":
		open := 0
		for _, t := range s.tasks {
			if !t.Done {
				open++
			}
		}
		data, _ := json.Marshal(s.tasks)
		var asAny []any
		json.Unmarshal(data, &asAny)
		return success(fmt.Sprintf("%d tasks, %d open.", len(s.tasks), open), map[string]any{
			"tasks": asAny,
		}), nil
	case "clear":
		n := len(s.tasks)
		s.tasks = nil
		return success(fmt.Sprintf("Cleared %d tasks.", n), nil), nil
	}
	return failure("unknown tasks command %q (try add, done, list, clear)", verb), nil
}

// timerStore tracks pending timers and reminders.
type timerStore struct {
	mu      sync.Mutex
	pending map[string]*pendingTimer
}

type pendingTimer struct {
	ID    string
	Label string
	Fires time.Time
	timer *time.Timer
}

func (s *timerStore) schedule(d time.Duration, label string) *pendingTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[string]*pendingTimer)
	}
	p := &pendingTimer{
		ID:    uuid.NewString(),
		Label: label,
		Fires: time.Now().Add(d),
	}
	p.timer = time.AfterFunc(d, func() {
		logging.Plugins("timer %s fired: %s", p.ID, label)
		s.mu.Lock()
		delete(s.pending, p.ID)
		s.mu.Unlock()
	})
	s.pending[p.ID] = p
	return p
}

func (s *timerStore) startTimer(ctx context.Context, input string, cc CallContext) (Result, error) {
	d, err := time.ParseDuration(strings.TrimSpace(input))
	if err != nil || d <= 0 {
		return failure("not a valid duration: %q", input), nil
	}
	p := s.schedule(d, "timer")
	return success(fmt.Sprintf("Timer set for %v.", d), map[string]any{
		"id":       p.ID,
		"fires_at": p.Fires.Format(time.RFC3339),
	}), nil
}

func (s *timerStore) startReminder(ctx context.Context, input string, cc CallContext) (Result, error) {
	durPart, text := splitVerb(input)
	d, err := time.ParseDuration(durPart)
	if err != nil || d <= 0 {
		return failure("reminder needs a leading duration, e.g. \"10m stand up\""), nil
	}
	if text == "" {
		text = "reminder"
	}
	p := s.schedule(d, text)
	return success(fmt.Sprintf("I'll remind you in %v: %s", d, text), map[string]any{
		"id":       p.ID,
		"text":     text,
		"fires_at": p.Fires.Format(time.RFC3339),
	}), nil
}

// Pending returns the outstanding timer labels, soonest first.
func (s *timerStore) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*pendingTimer, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fires.Before(out[j].Fires) })
	labels := make([]string, len(out))
	for i, p := range out {
		labels[i] = p.Label
	}
	return labels
}

func splitVerb(input string) (string, string) {
	fields := strings.Fields(strings.TrimSpace(input))
	if len(fields) == 0 {
		return "", ""
	}
	return strings.ToLower(fields[0]), strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), fields[0]))
}
