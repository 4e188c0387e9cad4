package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// snapshot is a loaded config and the digest of the bytes it came from.
type snapshot struct {
	cfg *Config
	sum [sha256.Size]byte
}

// Watcher reloads a config file whenever it changes on disk and hands each
// new valid version to a callback. Edits that fail to load or validate are
// logged and leave the current config in place.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	latest atomic.Pointer[snapshot]
	events *fsnotify.Watcher
	quit   chan struct{}
	exited chan struct{}
	stop   sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period after the last file event before the
// file is read again. Editors often write a file in several steps. Default
// 100ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path and watches it for changes. onChange may be nil.
//
// The directory holding path is watched rather than the file, so that an
// editor saving through write-to-temp-and-rename is still seen.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: 100 * time.Millisecond,
		onChange: onChange,
		log:      slog.Default(),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	first, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.latest.Store(first)

	if w.events, err = fsnotify.NewWatcher(); err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := w.events.Add(dir); err != nil {
		w.events.Close()
		return nil, fmt.Errorf("config: watch %q: %w", dir, err)
	}

	go w.run()
	return w, nil
}

// Current returns the last config that loaded successfully.
func (w *Watcher) Current() *Config { return w.latest.Load().cfg }

// Stop ends watching. It returns once no further callback can run and may
// be called more than once.
func (w *Watcher) Stop() {
	w.stop.Do(func() {
		close(w.quit)
		w.events.Close()
		<-w.exited
	})
}

func (w *Watcher) run() {
	defer close(w.exited)

	settle := time.NewTimer(w.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-w.quit:
			return

		case ev, ok := <-w.events.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				settle.Reset(w.debounce)
			}

		case err, ok := <-w.events.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher: fsnotify error", "path", w.path, "err", err)

		case <-settle.C:
			w.reload()
		}
	}
}

// relevant reports whether ev may have changed the watched file's content.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	return filepath.Clean(ev.Name) == w.path &&
		ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename)
}

func (w *Watcher) reload() {
	next, err := w.read()
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}
	prev := w.latest.Load()
	if prev.sum == next.sum {
		return
	}
	w.latest.Store(next)
	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

func (w *Watcher) read() (*snapshot, error) {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(raw)}, nil
}
