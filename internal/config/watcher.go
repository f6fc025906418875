package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gembridge/gembridge/internal/logging"
)

// Watch reloads the config file on change and invokes onReload with the
// fresh config. Editors often emit several events per save, so reloads
// are debounced. The returned stop function releases the watcher.
func Watch(path string, onReload func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: some editors replace the file on save, which
	// drops a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var timer *time.Timer
		target := filepath.Clean(path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(250*time.Millisecond, func() {
					cfg, loadErr := LoadConfig(path)
					if loadErr != nil {
						logging.Warnf("Config reload skipped: %v", loadErr)
						return
					}
					logging.Infof("Config reloaded from %s", path)
					onReload(cfg)
				})
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warnf("Config watcher error: %v", watchErr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
