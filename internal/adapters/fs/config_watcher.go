// Package fs contains filesystem adapters.
package fs

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/kiosk/pkg/log"
)

// DefaultDebounceDelay is how long the watcher waits after the last change
// before reloading.
const DefaultDebounceDelay = 100 * time.Millisecond

// ConfigWatcher monitors one config file via fsnotify and invokes a reload
// callback, debounced, whenever it is written or recreated.
type ConfigWatcher struct {
	path   string
	reload func()
	delay  time.Duration
	logger log.Logger

	mu       sync.Mutex
	debounce *time.Timer
}

// NewConfigWatcher creates a watcher for path. delay <= 0 selects
// DefaultDebounceDelay.
func NewConfigWatcher(path string, delay time.Duration, reload func(), logger log.Logger) *ConfigWatcher {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	return &ConfigWatcher{
		path:   filepath.Clean(path),
		reload: reload,
		delay:  delay,
		logger: logger.With(log.String("component", "config-watcher"), log.String("path", path)),
	}
}

// Run watches the file's directory until ctx is cancelled. The directory is
// watched rather than the file so that editors replacing the file by rename
// are still observed.
func (w *ConfigWatcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create watcher", log.Err(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Error("failed to watch config directory", log.Err(err))
		return
	}
	defer w.stopDebounce()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", log.Err(err))
		}
	}
}

func (w *ConfigWatcher) debounceReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		w.logger.Info("config file changed, reloading")
		w.reload()
	})
}

func (w *ConfigWatcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}
