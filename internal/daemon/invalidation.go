package daemon

import (
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// invalidationWatcher watches the directories of every existing path-like
// argument and flips a flag on any event there. The request loop consults
// it only to label an invalidation exit (spec §4.2, §9 "Fingerprint
// recomputation on every idle poll"); whether the server exits is decided
// by the 1s fingerprint recompute alone, since fsnotify events can be
// coalesced or missed across some filesystems, and an event may concern an
// unrelated file in a watched directory.
type invalidationWatcher struct {
	watcher *fsnotify.Watcher
	dirty   atomic.Bool
}

// newInvalidationWatcher watches the directories containing program and
// args that name existing files (fsnotify watches directories, not bare
// files, to survive editors that replace a file via rename-over).
func newInvalidationWatcher(paths []string) *invalidationWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("invalidation watcher disabled", "error", err)
		return nil
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		dir := dirOf(p)
		if seen[dir] {
			continue
		}
		if err := w.Add(dir); err == nil {
			seen[dir] = true
		}
	}

	iw := &invalidationWatcher{watcher: w}
	go iw.run()
	return iw
}

func (iw *invalidationWatcher) run() {
	for {
		select {
		case _, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			iw.dirty.Store(true)
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("invalidation watcher error", "error", err)
		}
	}
}

func (iw *invalidationWatcher) Changed() bool {
	if iw == nil {
		return false
	}
	return iw.dirty.Load()
}

func (iw *invalidationWatcher) Close() {
	if iw == nil {
		return
	}
	iw.watcher.Close()
}

func dirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return "."
}
