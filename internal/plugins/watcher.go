package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"seven/internal/logging"
)

// Watcher hot-reloads external plugins when their source or manifest changes
// on disk. Events are debounced so a burst of editor saves triggers a single
// reload per plugin directory.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	loader      *Loader
	orch        CatalogSink
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// CatalogSink receives the refreshed capability catalog after a reload.
type CatalogSink interface {
	SetCapabilityCatalog(text string)
}

// NewWatcher creates a watcher over the loader's plugin directory. sink may
// be nil when nothing consumes catalog updates.
func NewWatcher(dir string, loader *Loader, sink CatalogSink) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		loader:      loader,
		orch:        sink,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; a missing plugin directory is
// tolerated since it may be created later.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		logging.PluginsWarn("watch %s failed (dir may not exist yet): %v", w.dir, err)
	} else {
		logging.Plugins("watching plugin dir: %s", w.dir)
	}

	// fsnotify does not recurse; each plugin subdirectory is watched
	// individually, and new ones are added as they appear.
	if entries, err := os.ReadDir(w.dir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				w.watchSubdir(filepath.Join(w.dir, entry.Name()))
			}
		}
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) watchSubdir(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		logging.PluginsWarn("watch %s: %v", dir, err)
	}
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.PluginsWarn("closing watcher: %v", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.PluginsWarn("watcher error: %v", err)
		case <-ticker.C:
			w.processSettled()
		}
	}
}

// handleEvent records a relevant event for debounced processing.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && filepath.Dir(event.Name) == w.dir {
			w.watchSubdir(event.Name)
		}
	}
	name := w.pluginName(event.Name)
	if name == "" {
		return
	}
	logging.PluginsDebug("change in plugin %q: %s", name, event.Op)
	w.mu.Lock()
	w.debounceMap[name] = time.Now()
	w.mu.Unlock()
}

// pluginName maps an event path to the plugin subdirectory it belongs to.
// Only manifest and Go source changes count.
func (w *Watcher) pluginName(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if parts[0] == "." || parts[0] == "" {
		return ""
	}
	if len(parts) == 1 {
		// A new plugin directory appearing directly under the root.
		return parts[0]
	}
	base := parts[len(parts)-1]
	if base != "manifest.yaml" && !strings.HasSuffix(base, ".go") {
		return ""
	}
	return parts[0]
}

// processSettled reloads plugins whose events settled past the debounce
// window.
func (w *Watcher) processSettled() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for name, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, name)
			delete(w.debounceMap, name)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	for _, name := range settled {
		if err := w.loader.Reload(name); err != nil {
			logging.PluginsWarn("hot reload of %q failed: %v", name, err)
			continue
		}
		logging.Plugins("hot reloaded plugin %q", name)
	}
	if w.orch != nil {
		w.orch.SetCapabilityCatalog(w.loader.registry.Catalog())
	}
}
