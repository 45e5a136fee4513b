// Package watcher reports changes to configuration files so the service can
// restart with the new settings.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const changeOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watcher calls onChange when any of its target files is written, created,
// removed or renamed. Bursts of events within the debounce window collapse
// into one call. Parent directories are watched since editors often replace
// files instead of writing them in place.
type Watcher struct {
	targets  map[string]bool
	parents  map[string]bool
	onChange func(path string)
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	debounce time.Duration
}

// New creates a Watcher for paths. Empty paths are ignored.
func New(onChange func(path string), paths ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		targets:  make(map[string]bool),
		parents:  make(map[string]bool),
		onChange: onChange,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		debounce: 250 * time.Millisecond,
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		w.targets[p] = true
		w.parents[filepath.Dir(p)] = true
	}
	return w, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for dir := range w.parents {
		if err := w.addWatch(dir); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to add watch")
		}
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return w.watcher.Add(dir)
}

func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			path := filepath.Clean(event.Name)
			if !w.targets[path] || event.Op&changeOps == 0 {
				continue
			}

			log.Debug().Str("path", path).Str("op", event.Op.String()).Msg("Watched file changed")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				w.fire(path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fire(path string) {
	if w.ctx.Err() != nil {
		return
	}
	log.Info().Str("path", path).Msg("Configuration file changed")
	if w.onChange != nil {
		w.onChange(path)
	}
}
