// Package watch reports checkpoint files written to a model directory
// while the trainer runs.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of write events a single
// checkpoint save produces into one notification.
const DefaultDebounce = 250 * time.Millisecond

// Watcher follows a model directory and calls OnCheckpoint once per
// settled checkpoint write.
type Watcher struct {
	Dir      string
	Glob     string
	Debounce time.Duration

	// OnCheckpoint is called from the watcher goroutine.
	OnCheckpoint func(path string)

	Logger *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a Watcher for dir. Files whose base name matches glob are
// treated as checkpoints.
func New(dir, glob string, onCheckpoint func(string), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		Dir:          dir,
		Glob:         glob,
		Debounce:     DefaultDebounce,
		OnCheckpoint: onCheckpoint,
		Logger:       logger,
	}
}

// Start creates the model directory if needed and begins watching it.
// It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if _, err := filepath.Match(w.Glob, ""); err != nil {
		return fmt.Errorf("invalid checkpoint glob %q: %w", w.Glob, err)
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create model dir %s: %w", w.Dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.Dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}

	w.fsw = fsw
	w.pending = make(map[string]time.Time)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	w.Logger.Debug("watching model directory", zap.String("dir", w.Dir), zap.String("glob", w.Glob))
	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the watcher goroutine to exit.
// Checkpoint writes still inside the debounce window are reported
// before Stop returns.
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
	if err := w.fsw.Close(); err != nil {
		w.Logger.Warn("closing watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.Debounce / 5
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(time.Time{})
			return
		case <-w.stopCh:
			w.flush(time.Time{})
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.Logger.Warn("watcher error", zap.Error(err))
		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if ok, _ := filepath.Match(w.Glob, filepath.Base(ev.Name)); !ok {
		return
	}
	w.pending[ev.Name] = time.Now()
}

// flush reports pending writes that have been quiet for the debounce
// window. A zero now reports everything.
func (w *Watcher) flush(now time.Time) {
	for path, last := range w.pending {
		if !now.IsZero() && now.Sub(last) < w.Debounce {
			continue
		}
		delete(w.pending, path)
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		w.Logger.Info("checkpoint written", zap.String("path", path))
		if w.OnCheckpoint != nil {
			w.OnCheckpoint(path)
		}
	}
}
