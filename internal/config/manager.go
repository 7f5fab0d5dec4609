package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadCallback is invoked after a successful hot reload.
type ReloadCallback func(old, new *Config)

// Manager holds the current configuration snapshot and hot-reloads it when
// the config file changes on disk. Readers always see a consistent snapshot.
type Manager struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	watcher   *fsnotify.Watcher
	callbacks []ReloadCallback
	logger    *zap.Logger
	done      chan struct{}
}

// NewManager loads the initial configuration and returns a manager for it.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Manager{
		current: cfg,
		path:    path,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnReload registers a callback invoked after each successful reload.
func (m *Manager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// Watch starts watching the config file for changes. No-op when the manager
// was created without a file path.
func (m *Manager) Watch() error {
	if m.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file atomically,
	// which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", m.path, err)
	}
	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				m.reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("Config watcher error", zap.Error(err))
			case <-m.done:
				return
			}
		}
	}()

	m.logger.Info("Watching configuration file", zap.String("path", m.path))
	return nil
}

func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		// Keep serving the previous snapshot on a bad reload.
		m.logger.Error("Config reload failed, keeping previous configuration",
			zap.String("path", m.path),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	old := m.current
	m.current = cfg
	callbacks := make([]ReloadCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded", zap.String("path", m.path))
	for _, cb := range callbacks {
		cb(old, cfg)
	}
}

// Close stops watching for changes.
func (m *Manager) Close() error {
	close(m.done)
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
