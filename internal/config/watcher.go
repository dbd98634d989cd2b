package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the project config file when it changes and hands the
// reloaded Config to the registered callback. Reload failures keep the last
// good config.
type Watcher struct {
	path    string
	onLoad  func(*Config)
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching the config file at path. The callback runs on every
// successful reload, from the watcher goroutine.
func Watch(path string, onLoad func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		onLoad:  onLoad,
		watcher: watcher,
		done:    make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

func (w *Watcher) watch() {
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
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadFromPath(w.path)
			if err != nil {
				continue
			}
			w.onLoad(cfg)
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
