package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/brad07/threatscope/pkg/detector"
)

// WatcherConfig holds configuration for the config watcher.
type WatcherConfig struct {
	// ConfigPath is the file to watch for changes.
	ConfigPath string

	// DebounceInterval is the time to wait before triggering reload after changes.
	DebounceInterval time.Duration

	// OnReload is called when configuration changes are detected.
	OnReload func(ctx context.Context) error
}

// DefaultWatcherConfig returns a WatcherConfig with sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		DebounceInterval: 500 * time.Millisecond,
	}
}

// Watcher monitors the configuration file and triggers detector reloads.
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(config WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultWatcherConfig().DebounceInterval
	}

	return &Watcher{
		config:  config,
		watcher: fsWatcher,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching for configuration changes.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Editors often replace files, so watch the directory rather than the file.
	if err := w.watcher.Add(filepath.Dir(w.config.ConfigPath)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.doneCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	configFile := filepath.Base(w.config.ConfigPath)

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(w.config.DebounceInterval)
				debounceCh = debounceTimer.C
			}

		case <-debounceCh:
			debounceCh = nil
			w.logger.Info("configuration change detected, reloading detectors", "path", w.config.ConfigPath)
			if w.config.OnReload == nil {
				continue
			}
			if err := w.config.OnReload(ctx); err != nil {
				w.logger.Warn("detector reload finished with errors", "error", err)
			} else {
				w.logger.Info("detector reload completed")
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// HealthMonitorConfig holds configuration for health monitoring.
type HealthMonitorConfig struct {
	// CheckInterval is how often to check adapter health.
	CheckInterval time.Duration

	// CheckTimeout bounds a single health check.
	CheckTimeout time.Duration

	// OnUnhealthy is called when a ready capability becomes degraded.
	OnUnhealthy func(c detector.Capability, err error)

	// OnRecovered is called when a degraded capability becomes ready again.
	OnRecovered func(c detector.Capability)
}

// DefaultHealthMonitorConfig returns a HealthMonitorConfig with sensible defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval: 30 * time.Second,
		CheckTimeout:  5 * time.Second,
	}
}

// HealthMonitor periodically health-checks adapters that support it and
// moves their capability between Ready and Degraded.
type HealthMonitor struct {
	registry *Registry
	config   HealthMonitorConfig
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(registry *Registry, config HealthMonitorConfig) *HealthMonitor {
	defaults := DefaultHealthMonitorConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = defaults.CheckTimeout
	}
	return &HealthMonitor{
		registry: registry,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins health monitoring.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.monitorLoop(ctx)
}

// Stop stops the health monitor.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
	<-h.doneCh
}

func (h *HealthMonitor) monitorLoop(ctx context.Context) {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.CheckAll(ctx)
		}
	}
}

// CheckAll health-checks every Ready or Degraded adapter once.
func (h *HealthMonitor) CheckAll(ctx context.Context) {
	for c, adapter := range h.registry.adapters() {
		checker, ok := adapter.(detector.HealthChecker)
		if !ok {
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, h.config.CheckTimeout)
		err := checker.HealthCheck(checkCtx)
		cancel()

		if !h.registry.markHealth(c, adapter, err) {
			continue
		}
		if err != nil {
			h.registry.logger.Warn("detector unhealthy", "capability", c, "error", err)
			if h.config.OnUnhealthy != nil {
				h.config.OnUnhealthy(c, err)
			}
		} else {
			h.registry.logger.Info("detector recovered", "capability", c)
			if h.config.OnRecovered != nil {
				h.config.OnRecovered(c)
			}
		}
	}
}
