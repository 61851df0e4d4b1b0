package reactor

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled firing. Grounded on eventloop/loop.go's
// timer{when time.Time; task Task} plus its container/heap.Interface
// implementation (timerHeap), carried over near-verbatim — it's already a
// minimal min-heap and there's nothing to generalize further.
type timerEntry struct {
	when time.Time
	fire func()
	w    Watcher // the owning watcher, for cancellation bookkeeping
}

type timerHeap []timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// fireTimers pops and fires every timer entry whose time has come, and
// returns how many fired.
func (r *Reactor) fireTimers() int {
	n := 0
	now := time.Now()
	for {
		r.mu.Lock()
		if len(r.timers) == 0 || r.timers[0].when.After(now) {
			r.mu.Unlock()
			break
		}
		e := heap.Pop(&r.timers).(timerEntry)
		r.mu.Unlock()
		e.fire()
		n++
	}
	return n
}

func (r *Reactor) scheduleTimer(when time.Time, fire func(), w Watcher) {
	r.mu.Lock()
	heap.Push(&r.timers, timerEntry{when: when, fire: fire, w: w})
	r.mu.Unlock()
	r.wake()
}

// cancelTimer removes every pending entry owned by w (a timer watcher fires
// at most one pending entry at a time, so this is at most one removal, but
// Stop followed immediately by Start before the heap is touched could leave
// stale entries without this sweep).
func (r *Reactor) cancelTimer(w Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.timers[:0]
	for _, e := range r.timers {
		if e.w != w {
			kept = append(kept, e)
		}
	}
	r.timers = kept
	heap.Init(&r.timers)
}

// TimerWatcher implements spec.md §4.2's timer(after, repeat): fires once
// after "after", then every "repeat" (repeat==0 stops after one fire).
type TimerWatcher struct {
	base
	after, repeat time.Duration
	cb            func()
}

// NewTimer creates a timer watcher on r.
func (r *Reactor) NewTimer(after, repeat time.Duration, cb func()) *TimerWatcher {
	w := &TimerWatcher{base: newBase(r), after: after, repeat: repeat, cb: cb}
	r.registerWatcher(w)
	return w
}

func (w *TimerWatcher) Start() {
	w.mu.Lock()
	if !w.startLocked() {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.arm(w.after)
}

func (w *TimerWatcher) arm(d time.Duration) {
	w.r.scheduleTimer(time.Now().Add(d), w.fire, w)
}

func (w *TimerWatcher) fire() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return
	}
	repeat := w.repeat
	w.mu.Unlock()

	w.cb()

	if repeat > 0 {
		w.arm(repeat)
	} else {
		w.Stop()
	}
}

// Again re-arms the timer from "now" if repeat>0, else starts it if
// stopped (spec.md §4.2 "again re-arms... else starts it if stopped").
func (w *TimerWatcher) Again() {
	w.mu.Lock()
	repeat := w.repeat
	active := w.active
	w.mu.Unlock()

	if !active {
		w.Start()
		return
	}
	w.r.cancelTimer(w)
	if repeat > 0 {
		w.arm(repeat)
	} else {
		w.arm(w.after)
	}
}

func (w *TimerWatcher) Stop() {
	w.mu.Lock()
	changed := w.stopLocked()
	w.mu.Unlock()
	if changed {
		w.r.cancelTimer(w)
	}
}

func (w *TimerWatcher) Destroy() { w.Stop() }

// PeriodicWatcher implements spec.md §4.2's periodic(offset, interval,
// reschedule): an absolute wall-clock schedule. If reschedule is set, it
// may return an arbitrary future time; if that return is <= now, the
// watcher is safely stopped on the next prepare tick rather than
// synchronously (spec.md: "is *safely* stopped... not synchronously" —
// this is the same safe-stop pattern spec.md §5 describes for reschedule
// callbacks in general).
type PeriodicWatcher struct {
	base
	offset           time.Time
	interval         time.Duration
	reschedule       func(now time.Time) time.Time
	cb               func()
	safeStopPrepare  Watcher
}

// NewPeriodic creates a periodic watcher on r.
func (r *Reactor) NewPeriodic(offset time.Time, interval time.Duration, reschedule func(now time.Time) time.Time, cb func()) *PeriodicWatcher {
	w := &PeriodicWatcher{base: newBase(r), offset: offset, interval: interval, reschedule: reschedule, cb: cb}
	r.registerWatcher(w)
	return w
}

func (w *PeriodicWatcher) nextAfter(now time.Time) time.Time {
	if w.reschedule != nil {
		return w.reschedule(now)
	}
	if w.interval <= 0 {
		return w.offset // one-shot absolute time
	}
	next := w.offset
	for !next.After(now) {
		next = next.Add(w.interval)
	}
	return next
}

func (w *PeriodicWatcher) Start() {
	w.mu.Lock()
	if !w.startLocked() {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.arm()
}

func (w *PeriodicWatcher) arm() {
	now := time.Now()
	next := w.nextAfter(now)
	if !next.After(now) {
		// safe-stop: install a one-shot prepare watcher that performs the
		// stop on the next iteration, per spec.md §5 "Cancellation."
		var pw Watcher
		pw = w.r.NewPrepare(func() {
			pw.Stop()
			pw.Destroy()
			w.Stop()
		})
		w.safeStopPrepare = pw
		pw.Start()
		return
	}
	w.r.scheduleTimer(next, w.fire, w)
}

func (w *PeriodicWatcher) fire() {
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()
	if !active {
		return
	}
	w.cb()
	w.arm()
}

func (w *PeriodicWatcher) Stop() {
	w.mu.Lock()
	changed := w.stopLocked()
	w.mu.Unlock()
	if changed {
		w.r.cancelTimer(w)
	}
}

func (w *PeriodicWatcher) Destroy() { w.Stop() }
