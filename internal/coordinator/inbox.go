package coordinator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// InboxWatcher converts worker result files into wake source (1). Workers
// report by dropping one JSON message file into the session inbox directory;
// file arrival wakes the coordinator without polling.
type InboxWatcher struct {
	dir     string
	handle  func(models.Message) error
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// InboxDir returns the inbox directory for a session under the project root.
func InboxDir(projectDir, sessionID string) string {
	return filepath.Join(projectDir, ".ensemble", "sessions", sessionID, "inbox")
}

// WatchInbox starts watching the session's inbox directory and feeds every
// arriving message into HandleMessage. Files already present are drained
// first, so messages written while the coordinator was down are not lost.
func (c *Coordinator) WatchInbox() (*InboxWatcher, error) {
	sess := c.Session()
	if sess == nil {
		return nil, fmt.Errorf("watch inbox: no session loaded")
	}
	return watchInbox(InboxDir(c.dir, sess.ID), c.HandleMessage)
}

func watchInbox(dir string, handle func(models.Message) error) (*InboxWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch inbox %s: %w", dir, err)
	}

	w := &InboxWatcher{
		dir:     dir,
		handle:  handle,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	// Drain messages that arrived before the watch started.
	w.drain()

	go w.watch()
	return w, nil
}

// drain consumes every message file currently in the inbox.
func (w *InboxWatcher) drain() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.consume(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *InboxWatcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.consume(event.Name)
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// consume parses one message file, hands it to the coordinator, and removes
// the file. Unparseable files are left in place for inspection.
func (w *InboxWatcher) consume(path string) {
	if !strings.HasSuffix(path, ".json") {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		debugLog("inbox: unparseable message file %s: %v", path, err)
		return
	}
	if err := w.handle(m); err != nil {
		debugLog("inbox: handle %s: %v", path, err)
	}
	os.Remove(path)
}

// Close stops the watcher.
func (w *InboxWatcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
