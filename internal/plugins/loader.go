package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"seven/internal/logging"
)

// Manifest describes one external plugin directory.
type Manifest struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	Entry       string `yaml:"entry"`
	Disabled    bool   `yaml:"disabled"`
}

// allowedImports is the stdlib whitelist for interpreted plugins. Filesystem,
// network, exec and unsafe packages stay out.
var allowedImports = map[string]bool{
	"strings":          true,
	"strconv":          true,
	"fmt":              true,
	"math":             true,
	"math/rand":        true,
	"regexp":           true,
	"encoding/json":    true,
	"encoding/base64":  true,
	"time":             true,
	"sort":             true,
	"bytes":            true,
	"unicode":          true,
	"unicode/utf8":     true,
	"errors":           true,
	"container/heap":   true,
	"container/list":   true,
	"text/template":    true,
}

// Loader loads external plugins from a directory tree. Each plugin is a
// subdirectory holding a manifest.yaml and a Go source file that defines
//
//	func Run(input string) (string, error)
//
// interpreted in a sandboxed interpreter with only whitelisted stdlib
// imports. A plugin that fails to load is skipped and logged; it never
// aborts loading of its siblings.
type Loader struct {
	dir      string
	registry *Registry
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, registry *Registry) *Loader {
	return &Loader{dir: dir, registry: registry}
}

// LoadAll scans the plugin directory and registers every loadable plugin.
// A missing directory is not an error; there are simply no external plugins.
func (l *Loader) LoadAll() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read plugin dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := l.loadOne(filepath.Join(l.dir, entry.Name())); err != nil {
			logging.PluginsWarn("skipping plugin %q: %v", entry.Name(), err)
			continue
		}
		loaded++
	}
	logging.Plugins("loaded %d external plugins from %s", loaded, l.dir)
	return loaded, nil
}

// Reload re-registers the plugin in a single subdirectory, used by the
// watcher after a change.
func (l *Loader) Reload(name string) error {
	return l.loadOne(filepath.Join(l.dir, name))
}

func (l *Loader) loadOne(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, "manifest.yaml"))
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest has no name")
	}
	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("manifest has no description")
	}
	entry := m.Entry
	if entry == "" {
		entry = "plugin.go"
	}

	code, err := os.ReadFile(filepath.Join(dir, entry))
	if err != nil {
		return fmt.Errorf("entry point: %w", err)
	}
	run, err := compile(string(code))
	if err != nil {
		return err
	}

	ext := &interpreted{run: run}
	return l.registry.Register(Plugin{
		Name:        m.Name,
		Description: m.Description,
		Version:     m.Version,
		Enabled:     !m.Disabled,
		Exec:        ext.exec,
	})
}

// compile evaluates plugin source in a fresh interpreter and extracts the
// Run entry point.
func compile(code string) (func(string) (string, error), error) {
	if err := validateImports(code); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib: %w", err)
	}

	if !strings.Contains(code, "package main") {
		code = "package main\n\n" + code
	}
	if _, err := i.Eval(code); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	v, err := i.Eval("main.Run")
	if err != nil {
		return nil, fmt.Errorf("entry point Run not found: %w", err)
	}
	run, ok := v.Interface().(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("Run has wrong signature, want func(string) (string, error)")
	}
	return run, nil
}

// interpreted adapts a compiled Run function to the plugin contract. The
// interpreter is not safe for concurrent calls; the mutex serializes them.
type interpreted struct {
	mu  sync.Mutex
	run func(string) (string, error)
}

func (p *interpreted) exec(ctx context.Context, input string, cc CallContext) (Result, error) {
	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		text, err := p.run(input)
		ch <- outcome{text, err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return Result{}, out.err
		}
		return success(out.text, nil), nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("plugin timed out: %w", ctx.Err())
	}
}

// validateImports rejects source importing anything off the whitelist.
func validateImports(code string) error {
	var imports []string
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock && trimmed != "":
			imports = append(imports, importPath(trimmed))
		case strings.HasPrefix(trimmed, "import "):
			imports = append(imports, importPath(strings.TrimPrefix(trimmed, "import ")))
		}
	}

	var forbidden []string
	for _, pkg := range imports {
		if pkg != "" && !allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v", forbidden)
	}
	return nil
}

// importPath strips an optional alias and quotes from one import line.
func importPath(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[len(fields)-1], `"`)
}
