package classifier

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// defaultKnownSites is the illustrative whitelist from the glossary, used
// until (or when) no override file is loaded.
var defaultKnownSites = map[string]string{
	"google":        "google.com",
	"stackoverflow": "stackoverflow.com",
	"github":        "github.com",
	"youtube":       "youtube.com",
	"reddit":        "reddit.com",
	"twitter":       "twitter.com",
	"amazon":        "amazon.com",
	"wikipedia":     "wikipedia.org",
	"linkedin":      "linkedin.com",
}

// siteWhitelistFile is the on-disk shape for an override whitelist.
type siteWhitelistFile struct {
	Sites map[string]string `yaml:"sites"`
}

// SiteWhitelist is a reloadable, immutable-on-read known-site map, built
// the same way internal/sitepatterns hot-reloads its registry: a watched
// file swaps in a fresh map under a lock rather than mutating in place.
type SiteWhitelist struct {
	mu      sync.RWMutex
	sites   map[string]string
	path    string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewSiteWhitelist returns a whitelist seeded with the built-in defaults.
func NewSiteWhitelist() *SiteWhitelist {
	return &SiteWhitelist{sites: copySiteMap(defaultKnownSites)}
}

// Load replaces the whitelist contents from a YAML file at path.
func (w *SiteWhitelist) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var parsed siteWhitelistFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return err
	}
	if len(parsed.Sites) == 0 {
		return nil
	}

	w.mu.Lock()
	w.sites = copySiteMap(parsed.Sites)
	w.path = path
	w.mu.Unlock()
	return nil
}

// Lookup returns the domain for a known short name (case already
// normalized by the caller).
func (w *SiteWhitelist) Lookup(name string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	domain, ok := w.sites[name]
	return domain, ok
}

// Names returns a snapshot of the currently known short names, for
// substring matching against raw input.
func (w *SiteWhitelist) Names() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(w.sites))
	for name := range w.sites {
		names = append(names, name)
	}
	return names
}

// Watch begins watching the loaded file for changes, reloading on write
// events. Mirrors internal/sitepatterns.Registry.Watch.
func (w *SiteWhitelist) Watch(ctx context.Context, debounce time.Duration) error {
	w.mu.RLock()
	path := w.path
	w.mu.RUnlock()
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.watcher = watcher
	w.cancel = cancel

	go w.watchLoop(watchCtx, debounce)
	return nil
}

func (w *SiteWhitelist) watchLoop(ctx context.Context, debounce time.Duration) {
	var timer *time.Timer
	reload := func() {
		w.mu.RLock()
		path := w.path
		w.mu.RUnlock()
		_ = w.Load(path)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the file watcher, if running.
func (w *SiteWhitelist) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func copySiteMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
