// Package watcher watches the configuration file and triggers hot
// reloads. Editors replace files with rename/create sequences, so
// events are debounced and the path is re-added after each change.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/musicatri/console/internal/config"
)

const reloadDebounce = 300 * time.Millisecond

// Watcher reloads the configuration file on change.
type Watcher struct {
	configPath string
	callback   func(*config.Config)

	mu          sync.Mutex
	reloadTimer *time.Timer
}

// New builds a watcher for the config file. The callback runs with the
// freshly parsed configuration after each settled change.
func New(configPath string, callback func(*config.Config)) *Watcher {
	return &Watcher{configPath: configPath, callback: callback}
}

// Start blocks watching the config file until the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsWatcher.Close() }()

	// Watch the directory, not the file: renames drop file-level
	// watches.
	if err = fsWatcher.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	log.Debugf("watcher: watching %s", w.configPath)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watcher: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Warnf("watcher: reload %s: %v", w.configPath, err)
		return
	}
	log.Infof("watcher: configuration reloaded from %s", w.configPath)
	if w.callback != nil {
		w.callback(cfg)
	}
}
