package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig holds configuration for the config file watcher
type WatcherConfig struct {
	// DebounceDelay coalesces the burst of events editors emit on save
	DebounceDelay time.Duration
	// OnReload runs after a reloaded config has been accepted
	OnReload func(config *Config, result *ValidationResult)
	// OnError runs when a reload is rejected
	OnError func(err error)
}

// DefaultWatcherConfig returns default watcher configuration
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{DebounceDelay: 500 * time.Millisecond}
}

// ConfigWatcher keeps the last valid configuration loaded from a file and
// reloads it when the file changes on disk. Invalid edits are reported and
// leave the current configuration in place.
type ConfigWatcher struct {
	path    string
	opts    WatcherConfig
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *Config

	timerMu sync.Mutex
	timer   *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConfigWatcher loads and validates configPath and starts watching it
func NewConfigWatcher(configPath string, opts WatcherConfig) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	initial, result, err := ValidateAndLoad(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("initial configuration is invalid: %s", joinErrors(result.Errors))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Editors often replace the file on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = DefaultWatcherConfig().DebounceDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	cw := &ConfigWatcher{
		path:    absPath,
		opts:    opts,
		watcher: watcher,
		current: initial,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go cw.watch(ctx)

	return cw, nil
}

// GetConfig returns the current configuration
func (cw *ConfigWatcher) GetConfig() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.current
}

// Path returns the absolute path being watched
func (cw *ConfigWatcher) Path() string {
	return cw.path
}

func (cw *ConfigWatcher) watch(ctx context.Context) {
	defer close(cw.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cw.schedule(event.Op.String())
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.fail(fmt.Errorf("watcher error: %w", err))
		}
	}
}

func (cw *ConfigWatcher) schedule(op string) {
	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.opts.DebounceDelay, func() { cw.reload(op) })
}

func (cw *ConfigWatcher) reload(op string) {
	next, result, err := ValidateAndLoad(cw.path)
	if err != nil {
		cw.fail(fmt.Errorf("failed to reload config after %s: %w", op, err))
		return
	}
	if !result.Valid {
		cw.fail(fmt.Errorf("config validation failed after %s: %s", op, joinErrors(result.Errors)))
		return
	}

	cw.mu.Lock()
	cw.current = next
	cw.mu.Unlock()

	if cw.opts.OnReload != nil {
		cw.opts.OnReload(next, result)
	}
}

func (cw *ConfigWatcher) fail(err error) {
	if cw.opts.OnError != nil {
		cw.opts.OnError(err)
	}
}

// Stop stops watching and waits for the watch loop to exit
func (cw *ConfigWatcher) Stop() error {
	cw.cancel()

	cw.timerMu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timerMu.Unlock()

	err := cw.watcher.Close()
	<-cw.done
	return err
}

func joinErrors(errs []ConfigValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
