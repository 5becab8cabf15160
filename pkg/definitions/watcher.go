package definitions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Watcher reloads definition files when they change.
type Watcher struct {
	loader   *Loader
	paths    []string
	onReload func(Summary)
	delay    time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// NewWatcher creates a watcher for paths. onReload runs after every successful
// reload, typically to purge the rule cache.
func NewWatcher(loader *Loader, paths []string, onReload func(Summary), logger zerolog.Logger) *Watcher {
	return &Watcher{
		loader:   loader,
		paths:    paths,
		onReload: onReload,
		delay:    DefaultReloadDelay,
		logger:   logger.With().Str("component", "definitions-watcher").Logger(),
	}
}

// SetDelay changes the debounce delay. It must be called before Start.
func (w *Watcher) SetDelay(d time.Duration) {
	w.delay = d
}

// Start begins watching. Events are processed until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher)

	w.logger.Info().
		Int("paths", len(w.paths)).
		Msg("Started watching definition paths")

	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !IsDefinitionFile(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Definition file changed")

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.delay, func() {
				if err := w.reload(ctx); err != nil {
					w.logger.Error().Err(err).Msg("Failed to reload definitions")
				}
			})
			w.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) error {
	w.logger.Info().Msg("Reloading definitions...")

	sum, err := w.loader.Load(ctx, w.paths)
	if err != nil {
		return fmt.Errorf("failed to reload definitions: %w", err)
	}

	if w.onReload != nil {
		w.onReload(sum)
	}
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
