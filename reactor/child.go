package reactor

import "os"

// ChildWatcher implements spec.md §4.2's child(pid): fires cb once when the
// given process exits, delivering its exit state. Grounded on the same
// one-goroutine-per-watcher shape as SignalWatcher; os.Process.Wait already
// blocks until exit, so there is no polling loop to build.
type ChildWatcher struct {
	base
	proc *os.Process
	cb   func(*os.ProcessState, error)
}

// NewChild creates a child watcher on r for an already-started process.
func (r *Reactor) NewChild(proc *os.Process, cb func(*os.ProcessState, error)) *ChildWatcher {
	w := &ChildWatcher{base: newBase(r), proc: proc, cb: cb}
	r.registerWatcher(w)
	return w
}

func (w *ChildWatcher) Start() {
	w.mu.Lock()
	first := w.startLocked()
	w.mu.Unlock()
	if !first {
		return
	}
	go func() {
		state, err := w.proc.Wait()
		if !w.IsActive() {
			return
		}
		w.cb(state, err)
		w.Stop()
		w.r.wake()
	}()
}

func (w *ChildWatcher) Stop() {
	w.mu.Lock()
	w.stopLocked()
	w.mu.Unlock()
}

func (w *ChildWatcher) Destroy() { w.Stop() }
