package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDebounce coalesces the bursts of filesystem events editors emit for a
// single save.
const reloadDebounce = 100 * time.Millisecond

// ConfigReloader watches the config file and SIGHUP and applies safe
// configuration changes at runtime. Changes that would alter provisioned key
// material or worker wiring are rejected; those require a restart.
type ConfigReloader struct {
	configPath string
	logger     *logrus.Logger

	mu       sync.RWMutex
	current  *Config
	onReload func(old, new *Config) error

	watcher  *fsnotify.Watcher
	sighup   chan os.Signal
	stop     chan struct{}
	stopOnce sync.Once
}

// NewConfigReloader creates a reloader around the currently loaded config.
// With an empty path only SIGHUP triggers reloads.
func NewConfigReloader(configPath string, current *Config, logger *logrus.Logger) (*ConfigReloader, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := &ConfigReloader{
		configPath: configPath,
		logger:     logger,
		current:    current,
		sighup:     make(chan os.Signal, 1),
		stop:       make(chan struct{}),
	}

	if configPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		// Watch the directory, not the file: editors replace files on save
		// and a watch on the old inode would go stale.
		if err := watcher.Add(filepath.Dir(configPath)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch config directory: %w", err)
		}
		r.watcher = watcher
	}

	signal.Notify(r.sighup, syscall.SIGHUP)
	return r, nil
}

// Start runs the watch loop until Stop is called.
func (r *ConfigReloader) Start() {
	var events <-chan fsnotify.Event
	var errors <-chan error
	if r.watcher != nil {
		events = r.watcher.Events
		errors = r.watcher.Errors
	}

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Name != r.configPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			r.logger.WithField("path", r.configPath).Info("config file changed, reloading")
			if err := r.reload(); err != nil {
				r.logger.WithError(err).Error("config reload failed, keeping previous configuration")
			}

		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			r.logger.WithError(err).Warn("config file watcher error")

		case <-r.sighup:
			r.logger.Info("received SIGHUP, reloading configuration")
			if err := r.reload(); err != nil {
				r.logger.WithError(err).Error("config reload failed, keeping previous configuration")
			}

		case <-r.stop:
			return
		}
	}
}

// Stop terminates the watch loop and releases the watcher and signal handler.
func (r *ConfigReloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		signal.Stop(r.sighup)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// SetOnReloadCallback registers the function invoked with the old and new
// config after a successful reload. A callback error rejects the new config.
func (r *ConfigReloader) SetOnReloadCallback(callback func(old, new *Config) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = callback
}

// GetCurrentConfig returns a copy of the active configuration.
func (r *ConfigReloader) GetCurrentConfig() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg := *r.current
	return &cfg
}

func (r *ConfigReloader) reload() error {
	newConfig, err := LoadConfig(r.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validateReloadSafety(r.current, newConfig); err != nil {
		return err
	}
	if r.onReload != nil {
		if err := r.onReload(r.current, newConfig); err != nil {
			return fmt.Errorf("reload callback rejected new config: %w", err)
		}
	}

	r.current = newConfig
	r.logger.Info("configuration reloaded")
	return nil
}

// validateReloadSafety rejects changes that cannot be applied to a running
// core: provisioned key material and worker wiring are fixed at boot.
func (r *ConfigReloader) validateReloadSafety(old, new *Config) error {
	if !reflect.DeepEqual(old.KeyStore, new.KeyStore) {
		return fmt.Errorf("key_store cannot be changed during hot reload")
	}
	if old.Workers.QueueDepth != new.Workers.QueueDepth {
		return fmt.Errorf("workers.queue_depth cannot be changed during hot reload")
	}
	if old.Workers.ChaChaPolyUseKeyStore != new.Workers.ChaChaPolyUseKeyStore {
		return fmt.Errorf("workers.chachapoly_use_key_store cannot be changed during hot reload")
	}
	if old.Tracing.Enabled != new.Tracing.Enabled {
		return fmt.Errorf("tracing.enabled cannot be changed during hot reload")
	}
	return nil
}
