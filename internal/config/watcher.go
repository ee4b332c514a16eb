package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchInterval is the fallback polling period. File system
// notifications usually pick up an edit well before the next poll.
const DefaultWatchInterval = 5 * time.Second

// settleDelay lets a burst of notifications for one save finish before the
// file is read, so a truncate-then-write is not seen half done.
const settleDelay = 100 * time.Millisecond

// ChangeFunc receives the previous and the newly loaded config together with
// their [Diff].
type ChangeFunc func(old, new *Config, d ConfigDiff)

// Watcher reloads a config file when it changes and hands every valid new
// version to a [ChangeFunc]. Edits that fail to parse or validate are logged
// and skipped, so [Watcher.Current] always returns a valid config.
//
// The file's directory is watched with fsnotify, which also catches editors
// that save by renaming a temp file over the original. A slow poll runs
// alongside for file systems that deliver no events, such as some network
// and container mounts.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	notify   *fsnotify.Watcher // nil when notifications are unavailable

	mu      sync.Mutex
	current *Config
	version fileVersion

	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// fileVersion identifies one observed state of the file.
type fileVersion struct {
	mtime time.Time
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the fallback polling interval. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and watches it until [Watcher.Stop].
// onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, v, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.version = cfg, v

	w.notify, err = w.startNotify()
	if err != nil {
		slog.Warn("config watcher: file notifications unavailable, polling only",
			"path", w.path, "interval", w.interval, "err", err)
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) startNotify() (*fsnotify.Watcher, error) {
	n, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := n.Add(filepath.Dir(w.path)); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends watching and waits for the background goroutine to exit. Extra
// calls are no-ops.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w.notify != nil {
		defer w.notify.Close()
		events, errs = w.notify.Events, w.notify.Errors
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == w.path && !ev.Has(fsnotify.Remove) {
				settle.Reset(settleDelay)
			}
		case <-settle.C:
			w.check()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("config watcher: notification error", "path", w.path, "err", err)
		}
	}
}

// check reloads the file when its mtime moved and its content differs.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	same := info.ModTime().Equal(w.version.mtime)
	w.mu.Unlock()
	if same {
		return
	}

	cfg, v, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if v.hash == w.version.hash {
		w.version.mtime = v.mtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.version = cfg, v
	w.mu.Unlock()

	d := Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"hot_reloaded", d.Changed(),
		"restart_required", d.RestartRequired,
	)

	// Called unlocked so the callback may use Current.
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

func (w *Watcher) load() (*Config, fileVersion, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileVersion{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileVersion{}, err
	}
	return cfg, fileVersion{mtime: info.ModTime(), hash: sha256.Sum256(data)}, nil
}
