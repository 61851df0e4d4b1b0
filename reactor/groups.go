package reactor

import "sync"

// prepareWatcher fires immediately before a poll (spec.md §4.2 "prepare /
// check: invoked immediately before/after a block").
type prepareWatcher struct {
	base
	cb func()
}

// NewPrepare creates a prepare watcher on r.
func (r *Reactor) NewPrepare(cb func()) Watcher {
	w := &prepareWatcher{base: newBase(r), cb: cb}
	r.registerWatcher(w)
	return w
}

func (w *prepareWatcher) Start() {
	w.mu.Lock()
	if !w.startLocked() {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.r.addToGroup(kindPrepare, w)
}

func (w *prepareWatcher) Stop() {
	w.mu.Lock()
	changed := w.stopLocked()
	w.mu.Unlock()
	if changed {
		w.r.removeFromGroup(kindPrepare, w)
	}
}

func (w *prepareWatcher) Destroy() { w.Stop() }

// checkWatcher fires immediately after a poll, may carry a priority.
type checkWatcher struct {
	base
	cb func()
}

// NewCheck creates a check watcher on r.
func (r *Reactor) NewCheck(cb func()) Watcher {
	w := &checkWatcher{base: newBase(r), cb: cb}
	r.registerWatcher(w)
	return w
}

func (w *checkWatcher) Start() {
	w.mu.Lock()
	if !w.startLocked() {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.r.addToGroup(kindCheck, w)
}

func (w *checkWatcher) Stop() {
	w.mu.Lock()
	changed := w.stopLocked()
	w.mu.Unlock()
	if changed {
		w.r.removeFromGroup(kindCheck, w)
	}
}

func (w *checkWatcher) Destroy() { w.Stop() }

// idleWatcher fires every iteration; used to prevent the loop from
// blocking (spec.md §4.2).
type idleWatcher struct {
	base
	cb func()
}

// NewIdle creates an idle watcher on r.
func (r *Reactor) NewIdle(cb func()) Watcher {
	w := &idleWatcher{base: newBase(r), cb: cb}
	r.registerWatcher(w)
	return w
}

func (w *idleWatcher) Start() {
	w.mu.Lock()
	if !w.startLocked() {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.r.addToGroup(kindIdle, w)
}

func (w *idleWatcher) Stop() {
	w.mu.Lock()
	changed := w.stopLocked()
	w.mu.Unlock()
	if changed {
		w.r.removeFromGroup(kindIdle, w)
	}
}

func (w *idleWatcher) Destroy() { w.Stop() }

// groupSet tracks the currently-started watchers of one groupKind.
type groupSet struct {
	mu    sync.Mutex
	order []any // *prepareWatcher | *checkWatcher | *idleWatcher, insertion order
}

func (g *groupSet) add(w any) {
	g.mu.Lock()
	g.order = append(g.order, w)
	g.mu.Unlock()
}

func (g *groupSet) remove(w any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, v := range g.order {
		if v == w {
			g.order = append(g.order[:i], g.order[i+1:]...)
			return
		}
	}
}

func (g *groupSet) snapshot() []any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]any, len(g.order))
	copy(out, g.order)
	return out
}

func (r *Reactor) group(k groupKind) *groupSet {
	switch k {
	case kindPrepare:
		return &r.prepareGroup
	case kindCheck:
		return &r.checkGroup
	default:
		return &r.idleGroup
	}
}

func (r *Reactor) addToGroup(k groupKind, w any)      { r.group(k).add(w) }
func (r *Reactor) removeFromGroup(k groupKind, w any) { r.group(k).remove(w) }

// runGroup invokes every currently-active watcher in group k, in insertion
// order, and returns how many callbacks ran. check-group watchers are run
// in priority order (highest first), per spec.md's "check may carry a
// priority."
func (r *Reactor) runGroup(k groupKind) int {
	items := r.group(k).snapshot()
	if k == kindCheck {
		items = sortByPriority(items)
	}
	n := 0
	for _, it := range items {
		switch w := it.(type) {
		case *prepareWatcher:
			if w.IsActive() {
				w.cb()
				n++
			}
		case *checkWatcher:
			if w.IsActive() {
				w.cb()
				n++
			}
		case *idleWatcher:
			if w.IsActive() {
				w.cb()
				n++
			}
		}
	}
	return n
}

func sortByPriority(items []any) []any {
	prio := func(it any) int {
		if w, ok := it.(*checkWatcher); ok {
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.priority
		}
		return 0
	}
	out := make([]any, len(items))
	copy(out, items)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && prio(out[j]) > prio(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
