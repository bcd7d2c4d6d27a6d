package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// WatchFile reloads the Features section whenever the config file changes.
// Only hot-reloadable flags are touched; connection settings stay fixed for
// the process lifetime. Returns immediately when the watcher cannot start.
func (c *Config) WatchFile(ctx context.Context, path string) {
	if path == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("config watcher unavailable")
		return
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		log.WithError(err).WithField("path", path).Warn("cannot watch config directory")
		_ = watcher.Close()
		return
	}
	log.WithField("path", path).Info("config watcher started")

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				// debounce rapid successive writes (editors, atomic renames)
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					c.reloadFeatures(path)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
}

func (c *Config) reloadFeatures(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.WithError(err).Warn("config reload failed")
		return
	}
	var extra fileLayout
	if err := yaml.Unmarshal(raw, &extra); err != nil {
		log.WithError(err).Warn("config reload parse failed")
		return
	}
	c.SetFeatures(extra.Features)
	log.Info("hot-reloadable flags refreshed from config file")
}
