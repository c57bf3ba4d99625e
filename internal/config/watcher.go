package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/soundrift/gateway/internal/logging"
)

// Watcher watches a config file and reloads it on change.
type Watcher struct {
	path     string
	loader   *Loader
	onReload func(*Config)
	watcher  *fsnotify.Watcher
	done     chan struct{}
	// debounce absorbs editor write bursts
	debounce time.Duration
}

// NewWatcher creates a config file watcher. onReload is called with
// every successfully parsed new config.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		loader:   NewLoader(),
		onReload: onReload,
		watcher:  fw,
		done:     make(chan struct{}),
		debounce: 200 * time.Millisecond,
	}

	// Watch the directory: editors replace files, which drops the
	// watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			return
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
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.path)
	if err != nil {
		logging.Error("Config reload failed, keeping previous config",
			zap.String("path", w.path), zap.Error(err))
		return
	}
	logging.Info("Config reloaded", zap.String("path", w.path))
	w.onReload(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
