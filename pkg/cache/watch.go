package cache

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// configWatcher reloads a config file whenever it changes on disk. It
// watches the parent directory rather than the file itself so that
// editors and atomic writers that replace the file still trigger reloads.
type configWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func newConfigWatcher(path string, apply func(*Config) error, logger *zap.Logger) (*configWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &configWatcher{
		watcher: fw,
		path:    absPath,
		logger:  logger,
		done:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run(apply)
	return w, nil
}

func (w *configWatcher) run(apply func(*Config) error) {
	defer w.wg.Done()

	base := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload(apply)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", zap.Error(err))
		}
	}
}

// reload parses the changed file and hands it to apply. A file that fails
// to parse or validate leaves the current configuration in effect.
func (w *configWatcher) reload(apply func(*Config) error) {
	config, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := apply(config); err != nil {
		w.logger.Warn("config reload rejected", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("configuration reloaded", zap.String("path", w.path))
}

func (w *configWatcher) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()
	})
}

// WatchConfig reloads the file at path whenever it changes and applies the
// runtime-adjustable settings via Reconfigure. Reload failures are logged
// and the running configuration stays in effect. The watcher stops when
// the cache closes.
func (c *Cache[V]) WatchConfig(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("cache is closed")
	}
	if c.watcher != nil {
		return fmt.Errorf("config watcher already running")
	}

	watcher, err := newConfigWatcher(path, c.Reconfigure, c.logger.Named("config"))
	if err != nil {
		return err
	}
	c.watcher = watcher
	c.logger.Info("watching config file", zap.String("path", path))
	return nil
}
