package reactor

import "sync"

// Watcher is the common lifecycle interface every variant in spec.md §3/§4.2
// implements: fd, timer, periodic, prepare, check, idle, signal, child,
// stat, socket, handle.
type Watcher interface {
	// Start arms the watcher. Starting an already-started watcher is a
	// no-op (idempotent), matching spec.md's "start after stop re-arms."
	Start()
	// Stop disarms the watcher; it holds no scheduling state while stopped.
	Stop()
	// Ref/Unref toggle whether this watcher alone can keep Run blocking.
	Ref()
	Unref()
	// IsActive reports whether Start has been called without a matching
	// Stop.
	IsActive() bool
	// Destroy implies Stop and releases any OS resources.
	Destroy()
}

// groupKind distinguishes the three watcher kinds Reactor drives in a fixed
// order per iteration (spec.md §5 "check runs after prepare and after all
// event handlers").
type groupKind int

const (
	kindPrepare groupKind = iota
	kindCheck
	kindIdle
)

// base implements the Ref/Unref/IsActive bookkeeping shared by every
// variant, and the registration with the owning Reactor. Embed this in each
// concrete watcher type.
type base struct {
	mu         sync.Mutex
	r          *Reactor
	active     bool
	referenced bool
	priority   int
}

func newBase(r *Reactor) base {
	return base{r: r, referenced: true}
}

// startLocked transitions active false->true and adjusts the reactor's
// active&referenced counter if this watcher is referenced. Callers embed
// base and call this under their own start logic; see fd.go for the
// pattern.
func (b *base) startLocked() (wasInactive bool) {
	if b.active {
		return false
	}
	b.active = true
	if b.referenced {
		b.r.adjustActive(1)
	}
	return true
}

func (b *base) stopLocked() (wasActive bool) {
	if !b.active {
		return false
	}
	b.active = false
	if b.referenced {
		b.r.adjustActive(-1)
	}
	return true
}

// Ref marks the watcher as referenced; if already active this immediately
// contributes to the reactor's active&referenced count.
func (b *base) Ref() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.referenced {
		return
	}
	b.referenced = true
	if b.active {
		b.r.adjustActive(1)
	}
}

// Unref marks the watcher as unreferenced (spec.md §4.2: "does not by
// itself keep the reactor running").
func (b *base) Unref() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.referenced {
		return
	}
	b.referenced = false
	if b.active {
		b.r.adjustActive(-1)
	}
}

func (b *base) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SetPriority sets the watcher's priority, consulted by check-group
// ordering (spec.md §4.2 "check may carry a priority").
func (b *base) SetPriority(p int) {
	b.mu.Lock()
	b.priority = p
	b.mu.Unlock()
}
