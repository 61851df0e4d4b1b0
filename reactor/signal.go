package reactor

import (
	"os"
	"os/signal"
	"sync"
)

// SignalWatcher implements spec.md §4.2's signal(sig): fires cb whenever
// the process receives sig, for as long as the watcher is active. Grounded
// on the same registerWatcher/base lifecycle as every other variant; the
// teacher has no direct signal-watcher analogue, so the os/signal plumbing
// here is original, built in the teacher's idiom (one goroutine per active
// watcher, torn down on Stop, rather than a shared dispatcher table).
type SignalWatcher struct {
	base
	sig os.Signal
	cb  func(os.Signal)

	mu2    sync.Mutex
	ch     chan os.Signal
	done   chan struct{}
}

// NewSignal creates a signal watcher on r.
func (r *Reactor) NewSignal(sig os.Signal, cb func(os.Signal)) *SignalWatcher {
	w := &SignalWatcher{base: newBase(r), sig: sig, cb: cb}
	r.registerWatcher(w)
	return w
}

func (w *SignalWatcher) Start() {
	w.mu.Lock()
	first := w.startLocked()
	w.mu.Unlock()
	if !first {
		return
	}

	ch := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(ch, w.sig)

	w.mu2.Lock()
	w.ch, w.done = ch, done
	w.mu2.Unlock()

	go func() {
		for {
			select {
			case s := <-ch:
				if w.IsActive() {
					w.cb(s)
					w.r.wake()
				}
			case <-done:
				return
			}
		}
	}()
}

func (w *SignalWatcher) Stop() {
	w.mu.Lock()
	changed := w.stopLocked()
	w.mu.Unlock()
	if !changed {
		return
	}
	w.mu2.Lock()
	ch, done := w.ch, w.done
	w.ch, w.done = nil, nil
	w.mu2.Unlock()
	if ch != nil {
		signal.Stop(ch)
		close(done)
	}
}

func (w *SignalWatcher) Destroy() { w.Stop() }
