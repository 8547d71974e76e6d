package cellular

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads a configuration file when it changes on disk and
// hands every successfully parsed configuration to a callback. Parse and
// validation failures keep the previous configuration and are logged; a bad
// edit never takes a running framework down.
type ConfigWatcher struct {
	path    string
	logger  Logger
	onLoad  func(Config)
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// WatchConfig starts watching path and invokes onLoad with each valid reload.
// The initial load is the caller's responsibility; the watcher only reacts to
// subsequent changes. Watching the parent directory rather than the file
// itself survives the rename dance editors and configmap updates do.
func WatchConfig(path string, onLoad func(Config), logger Logger) (*ConfigWatcher, error) {
	if path == "" {
		return nil, ErrConfigPathEmpty
	}
	if logger == nil {
		logger = NewNoopLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &ConfigWatcher{
		path:    path,
		logger:  logger,
		onLoad:  onLoad,
		watcher: fsw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()

	logger.Info("watching config for changes", "path", path)
	return w, nil
}

// Stop stops watching. It is idempotent.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
		<-w.done
	})
}

func (w *ConfigWatcher) loop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "path", w.path, "error", err)
		case <-w.stop:
			return
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Error("config reload rejected, keeping previous configuration",
			"path", w.path, "error", err)
		return
	}

	w.logger.Info("config reloaded", "path", w.path)
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}

// ApplyConfig installs the hot-reloadable parts of a configuration into a
// running framework: aggregation thresholds and health-monitor thresholds.
// Distribution, persistence and sweep settings are fixed at start and require
// a restart; a change to them is logged and skipped.
func (f *Framework) ApplyConfig(cfg Config) {
	f.agg.SetConfig(cfg.Aggregator)
	f.monitor.SetConfig(cfg.Monitor)

	f.mu.Lock()
	prev := f.config
	f.config.Aggregator = cfg.Aggregator
	f.config.Monitor = cfg.Monitor
	f.mu.Unlock()

	if prev.Distributor != cfg.Distributor || prev.Persistence != cfg.Persistence || prev.Sweep != cfg.Sweep {
		f.logger.Warn("distributor, persistence and sweep settings only apply at start; restart to pick them up")
	}

	f.logger.Info("configuration applied",
		"criticalDegradedThreshold", cfg.Aggregator.CriticalDegradedThreshold,
		"thresholds", len(cfg.Monitor.Thresholds))
}
