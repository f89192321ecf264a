package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vllm-project/semantic-cache-proxy/pkg/observability/logging"
)

// debounceWindow coalesces the burst of fsnotify events a single save (or
// a Kubernetes ConfigMap symlink swap) tends to produce into one reload.
// reloadDelay gives the file a moment to settle before Parse reads it.
const (
	debounceWindow = 250 * time.Millisecond
	reloadDelay    = 300 * time.Millisecond
)

// Watch watches path's containing directory for changes and invokes
// onReload with the freshly parsed Config each time path's content
// changes. onReload is called with a nil Config and the parse error if a
// reload fails; the previously loaded Config stays in effect since the
// caller simply ignores a nil value. The returned Watcher must be closed
// by the caller (typically via a defer in main) to stop watching.
//
// Grounded on the teacher's pkg/extproc/server.go watchConfigAndReload:
// watch the directory rather than just the file so a Kubernetes ConfigMap
// atomic symlink swap (which replaces the directory entry, not the file
// in place) is still observed, and debounce bursts of events from a single
// save into one reload.
func Watch(path string, onReload func(*Config, error)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	_ = watcher.Add(path) // best-effort; may fail once the file is replaced by a symlink

	go watchLoop(watcher, path, dir, onReload)
	return watcher, nil
}

func watchLoop(watcher *fsnotify.Watcher, path, dir string, onReload func(*Config, error)) {
	var (
		pending bool
		last    time.Time
	)

	reload := func() {
		cfg, err := Parse(path)
		if err == nil {
			Replace(cfg)
			logging.ConfigReloaded(map[string]interface{}{"file": path})
		} else {
			logging.ConfigReloadFailed(map[string]interface{}{"file": path, "error": err.Error()})
		}
		onReload(cfg, err)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(path) && filepath.Dir(ev.Name) != dir {
				continue
			}
			if pending && time.Since(last) <= debounceWindow {
				continue
			}
			pending = true
			last = time.Now()
			go func() {
				time.Sleep(reloadDelay)
				reload()
			}()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.ConfigWatcherError(map[string]interface{}{"error": err.Error()})
		}
	}
}
