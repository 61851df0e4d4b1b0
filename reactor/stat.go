package reactor

import (
	"os"
	"time"
)

// StatWatcher implements spec.md §4.2's stat(path, interval): polls a
// path's os.FileInfo every interval and fires cb(old, new) when the
// modification time or size changes. There is no native OS stat-change
// notification this module can rely on portably (inotify/kqueue/FEN differ
// per platform and the original libev stat watcher itself falls back to
// polling when none is available), so this is built directly on the
// reactor's own TimerWatcher rather than a new OS primitive.
type StatWatcher struct {
	base
	path     string
	interval time.Duration
	cb       func(old, new os.FileInfo)
	last     os.FileInfo
	timer    *TimerWatcher
}

// NewStat creates a stat watcher on r.
func (r *Reactor) NewStat(path string, interval time.Duration, cb func(old, new os.FileInfo)) *StatWatcher {
	w := &StatWatcher{base: newBase(r), path: path, interval: interval, cb: cb}
	w.timer = r.NewTimer(interval, interval, w.poll)
	r.registerWatcher(w)
	return w
}

func (w *StatWatcher) poll() {
	fi, err := os.Stat(w.path)
	if err != nil {
		fi = nil
	}
	old := w.last
	if changed(old, fi) {
		w.last = fi
		w.cb(old, fi)
	}
}

func changed(old, new os.FileInfo) bool {
	if (old == nil) != (new == nil) {
		return true
	}
	if old == nil {
		return false
	}
	return !old.ModTime().Equal(new.ModTime()) || old.Size() != new.Size()
}

func (w *StatWatcher) Start() {
	w.mu.Lock()
	first := w.startLocked()
	w.mu.Unlock()
	if !first {
		return
	}
	w.last, _ = os.Stat(w.path)
	w.timer.Start()
}

func (w *StatWatcher) Stop() {
	w.mu.Lock()
	changed := w.stopLocked()
	w.mu.Unlock()
	if changed {
		w.timer.Stop()
	}
}

func (w *StatWatcher) Destroy() { w.Stop(); w.timer.Destroy() }
