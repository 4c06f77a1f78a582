package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the configuration file on change and hands each
// valid new config to the callback. Invalid configs are logged and
// dropped; the previous config stays in effect.
type Watcher struct {
	loader   *Loader
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher over the loader's config path.
func NewWatcher(loader *Loader, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{loader: loader, onChange: onChange, watcher: fsw}, nil
}

// Start begins watching. The config's parent directory is watched so
// atomic rename-style saves are observed too.
func (w *Watcher) Start() error {
	path := w.loader.GetConfigPath()
	if err := w.watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.loop(ctx, path)

	log.Debug().Str("path", path).Msg("Config watcher started")
	return nil
}

func (w *Watcher) loop(ctx context.Context, path string) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				w.reload(path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Error().Str("path", path).Err(err).Msg("Config reload failed, keeping previous config")
		return
	}
	if errs := NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, verr := range errs {
			log.Error().Err(verr).Msg("Config validation error")
		}
		log.Error().Str("path", path).Msg("Reloaded config invalid, keeping previous config")
		return
	}

	log.Info().Str("path", path).Msg("Config reloaded")
	w.onChange(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	return w.watcher.Close()
}
