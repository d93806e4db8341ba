package plugins

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"seven/internal/logging"
)

// readyTimeout bounds how long Execute waits for registry initialization.
// Exceeding it is an initialization failure, not an infinite wait.
const readyTimeout = 10 * time.Second

// Registry holds all registered plugins keyed by lowercased name. Safe for
// concurrent use. Callers must not invoke Execute before registration has
// finished; Execute blocks on MarkReady with a bounded wait.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRegistry creates an empty, not-yet-ready registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]*Plugin),
		ready:   make(chan struct{}),
	}
}

// Register adds a plugin keyed by its lowercased name. A name collision
// overwrites the earlier registration; last writer wins, with a warning.
func (r *Registry) Register(p Plugin) error {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		return fmt.Errorf("plugin has no name")
	}
	if p.Exec == nil {
		return fmt.Errorf("plugin %q has no entry point", p.Name)
	}
	if p.Description == "" {
		return fmt.Errorf("plugin %q has no description", p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.plugins[name]; ok {
		logging.PluginsWarn("plugin %q (v%s) replaced by a new registration (v%s)",
			name, prev.Version, p.Version)
	}
	cp := p
	r.plugins[name] = &cp
	logging.Plugins("registered %q: %s", name, p.Description)
	return nil
}

// Unregister removes a plugin by name. A no-op for unknown names.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := r.plugins[key]; ok {
		delete(r.plugins, key)
		logging.Plugins("unregistered %q", key)
	}
}

// SetEnabled toggles a plugin without unregistering it. Disabled plugins stay
// in the catalog lookup but refuse execution.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return false
	}
	p.Enabled = enabled
	return true
}

// MarkReady signals that initial registration has completed and Execute may
// proceed. Idempotent.
func (r *Registry) MarkReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

// Names returns the sorted registered plugin names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get looks up a plugin case-insensitively.
func (r *Registry) Get(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Catalog renders the capability list for injection into the system
// directive: one "- name: description" bullet per plugin, sorted, or a
// sentinel line when nothing is registered.
func (r *Registry) Catalog() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.plugins) == 0 {
		return "No plugins are currently available."
	}
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.plugins[name].Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Execute invokes a plugin by name. It never returns an error: every failure
// mode (registry not ready, unknown name, disabled plugin, plugin error,
// plugin panic) is a failure Result so one misbehaving capability cannot
// crash the dispatch core.
func (r *Registry) Execute(ctx context.Context, name, input string, cc CallContext) Result {
	if res, ok := r.awaitReady(ctx); !ok {
		return res
	}

	p, ok := r.Get(name)
	if !ok {
		known := strings.Join(r.Names(), ", ")
		if known == "" {
			known = "none"
		}
		return failure("unknown plugin %q (known: %s)", name, known)
	}
	if !p.Enabled {
		return failure("plugin %q is disabled", strings.ToLower(name))
	}

	logging.PluginsDebug("executing %q with %d bytes of input", p.Name, len(input))
	timer := logging.StartTimer(logging.CategoryPlugins, "execute "+p.Name)
	defer timer.Stop()

	res, err := r.invoke(ctx, p, input, cc)
	if err != nil {
		logging.PluginsWarn("plugin %q failed: %v", p.Name, err)
		return failure("plugin %q failed: %v", strings.ToLower(p.Name), err)
	}
	return res
}

// awaitReady blocks until MarkReady, bounded by readyTimeout.
func (r *Registry) awaitReady(ctx context.Context) (Result, bool) {
	select {
	case <-r.ready:
		return Result{}, true
	default:
	}

	t := time.NewTimer(readyTimeout)
	defer t.Stop()
	select {
	case <-r.ready:
		return Result{}, true
	case <-ctx.Done():
		return failure("plugin execution canceled: %v", ctx.Err()), false
	case <-t.C:
		return failure("plugin registry failed to initialize within %v", readyTimeout), false
	}
}

// invoke runs the entry point with panic recovery.
func (r *Registry) invoke(ctx context.Context, p *Plugin, input string, cc CallContext) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.PluginsWarn("plugin %q panicked: %v\n%s", p.Name, rec, debug.Stack())
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.Exec(ctx, input, cc)
}
