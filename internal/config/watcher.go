package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/codefionn/cookiebridge/internal/logger"
	"github.com/fsnotify/fsnotify"
)

// ErrWatcherClosed is returned by Run when fsnotify shuts its channels
// without the context being cancelled.
var ErrWatcherClosed = errors.New("config watcher closed")

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	path     string
	password string
	debounce time.Duration
	onChange func(*Config)
}

// NewWatcher creates a watcher for path. Reloaded configs are unlocked with
// password before being passed to onChange.
func NewWatcher(path, password string, onChange func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		password: password,
		debounce: DefaultDebounce,
		onChange: onChange,
	}
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run blocks until ctx is cancelled. The parent directory is watched rather
// than the file itself so atomic rename-on-save is seen.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return ErrWatcherClosed
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			logger.Warn("Config watcher error: %v", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logger.Warn("Ignoring config change, reload failed: %v", err)
		return
	}
	if err := cfg.ApplySecretsPassword(w.password); err != nil {
		logger.Warn("Ignoring config change, cannot unlock secrets: %v", err)
		return
	}

	logger.Debug("Config reloaded from %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
