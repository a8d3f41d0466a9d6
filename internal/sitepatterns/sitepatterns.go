// Package sitepatterns holds the §4.3 site-pattern registry consulted by
// the Element Resolver's second strategy: a design-time artifact mapping
// (host, concept) to an ordered list of selector candidates. The registry
// has no learning component; it is populated from a YAML file and may be
// hot-reloaded when that file changes on disk.
package sitepatterns

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Key identifies a (host, concept) pair, e.g. (amazon.com, search_box).
type Key struct {
	Host    string
	Concept string
}

type fileFormat struct {
	// Patterns maps "host" -> "concept" -> selector candidates, mirroring
	// how a hand-authored YAML file reads naturally.
	Patterns map[string]map[string][]string `yaml:"patterns"`
}

// Registry is a read-mostly map populated at startup and optionally kept in
// sync with a source file via fsnotify.
type Registry struct {
	mu       sync.RWMutex
	entries  map[Key][]string
	path     string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	watchWG  sync.WaitGroup
}

// New builds an empty registry. Use Load or Watch to populate it.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{entries: make(map[Key][]string), logger: logger}
}

// Load reads path and replaces the registry's contents atomically.
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sitepatterns: read %s: %w", path, err)
	}

	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("sitepatterns: parse %s: %w", path, err)
	}

	entries := make(map[Key][]string, len(parsed.Patterns))
	for host, concepts := range parsed.Patterns {
		for concept, selectors := range concepts {
			entries[Key{Host: host, Concept: concept}] = append([]string(nil), selectors...)
		}
	}

	r.mu.Lock()
	r.entries = entries
	r.path = path
	r.mu.Unlock()
	return nil
}

// Lookup returns the selector candidates registered for (host, concept).
func (r *Registry) Lookup(host, concept string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	selectors, ok := r.entries[Key{Host: host, Concept: concept}]
	return selectors, ok
}

// Watch reloads the registry whenever its source file changes, debounced to
// absorb editor save bursts. Watch is a no-op if Load has not been called.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	r.mu.RLock()
	path := r.path
	r.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("sitepatterns: Watch called before Load")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sitepatterns: new watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("sitepatterns: watch %s: %w", path, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	r.watcher = watcher
	r.cancel = cancel
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	r.watchWG.Add(1)
	go r.watchLoop(watchCtx, watcher, path, debounce)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, debounce time.Duration) {
	defer r.watchWG.Done()

	var timer *time.Timer
	scheduleReload := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Load(path); err != nil {
				r.logger.Warn("site pattern reload failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(path) {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("site pattern watch error", "error", err)
		}
	}
}

// Close stops the file watcher, if one is running.
func (r *Registry) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var err error
	if r.watcher != nil {
		err = r.watcher.Close()
	}
	r.watchWG.Wait()
	return err
}
