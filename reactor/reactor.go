// Package reactor implements spec.md §3/§4.2: a single-threaded cooperative
// event loop owning a set of Watchers, driving progress until all active &
// referenced watchers have terminated, a non-blocking/blocking single pass
// is requested, or a callback stops it.
//
// Grounded on eventloop/loop.go's Loop: the poller (reactor/poller_*.go,
// narrowed from the teacher's fixed-size lock-free array to a map-based
// registration set — this module has no need for the teacher's
// nanosecond-latency hot path), the container/heap-based timerHeap
// (reactor/timer.go, copied almost verbatim — it's a textbook min-heap and
// the teacher's version is already minimal), and the prepare/check pairing
// eventloop uses around microtask draining (reactor/groups.go),
// generalized here into first-class Watcher
// variants per spec.md §3 Watcher / §4.2.
package reactor

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/resourcefab/msgfabric/internal/flogging"
)

// RunFlag controls how far Run advances before returning.
type RunFlag int

const (
	// Default blocks until all active & referenced watchers terminate, or
	// the loop is stopped.
	Default RunFlag = iota
	// NoWait performs one non-blocking pass.
	NoWait
	// Once performs one blocking iteration.
	Once
)

// Standard errors.
var (
	// ErrReentrant is wrapped in the panic raised when the Reactor was built
	// with WithGoroutineAffinityCheck(true) and Run is called from a
	// goroutine other than the one that first called it (spec.md §5
	// "Scheduling"). Watcher callbacks are not checked.
	ErrReentrant = errors.New("reactor: reentrant call from foreign goroutine")
)

// Reactor is the event loop of spec.md §3/§4.2. The zero value is not
// valid; use New.
type Reactor struct {
	mu sync.Mutex

	refs int32 // Reactor ref-count (spec.md §3 "Ref-counted")

	poller poller
	timers timerHeap

	prepareGroup groupSet
	checkGroup   groupSet
	idleGroup    groupSet

	microtasks microtaskQueue

	// active/referenced bookkeeping: a watcher is "active" once started and
	// not yet stopped; "referenced" unless Unref'd. Run keeps going while
	// any watcher is both.
	watchers map[Watcher]struct{}
	activeRC int // count of watchers that are both active and referenced

	errFlag   bool
	stopped   bool
	running   bool
	log       *flogging.Logger
	debugGID  bool
	ownerGID  uint64
	ownerOnce sync.Once

	// wakeCh receives a token from wake() (Stop/StopError, timer
	// scheduling, microtask queuing, watcher start/stop). The pollers do
	// not watch it, so a poll that is already blocked is not interrupted:
	// a Stop from another goroutine takes effect once that poll returns.
	wakeCh chan struct{}
}

// Option configures a Reactor at construction.
type Option func(*Reactor)

// WithLogger attaches a structured logger (internal/flogging).
func WithLogger(l *flogging.Logger) Option {
	return func(r *Reactor) { r.log = l }
}

// WithGoroutineAffinityCheck enables the debug-mode single-thread
// reentrancy assertion described in SPEC_FULL.md §4.5.
func WithGoroutineAffinityCheck(enabled bool) Option {
	return func(r *Reactor) { r.debugGID = enabled }
}

// New constructs a Reactor with its own poller.
func New(opts ...Option) (*Reactor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	r := &Reactor{
		poller:   p,
		watchers: make(map[Watcher]struct{}),
		log:      flogging.Discard(),
		wakeCh:   make(chan struct{}, 1),
		refs:     1,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Ref increments the reactor's reference count (spec.md §3 "Ref-counted").
func (r *Reactor) Ref() {
	r.mu.Lock()
	r.refs++
	r.mu.Unlock()
}

// Unref decrements the reference count, destroying the reactor's poller
// when it reaches zero.
func (r *Reactor) Unref() {
	r.mu.Lock()
	r.refs--
	done := r.refs <= 0
	r.mu.Unlock()
	if done {
		_ = r.poller.close()
	}
}

// currentGID returns the calling goroutine's id, parsed from runtime.Stack
// the way the common "get current goroutine id" idiom does in Go (no
// stdlib API exposes this directly). Used only for the optional debug-mode
// affinity assertion; never on a hot path unconditionally.
func currentGID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [running]:\n..."
	s := string(buf[:n])
	const prefix = "goroutine "
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0
	}
	s = s[len(prefix):]
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	id, _ := strconv.ParseUint(s[:i], 10, 64)
	return id
}

func (r *Reactor) checkAffinity() {
	if !r.debugGID {
		return
	}
	gid := currentGID()
	r.ownerOnce.Do(func() { r.ownerGID = gid })
	if gid != r.ownerGID {
		panic(fmt.Errorf("%w: reactor owned by goroutine %d, called from %d", ErrReentrant, r.ownerGID, gid))
	}
}

// registerWatcher tracks w in the active set, adjusting activeRC per
// spec.md §4.2 "Reference semantics."
func (r *Reactor) registerWatcher(w Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers[w] = struct{}{}
}

func (r *Reactor) unregisterWatcher(w Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watchers, w)
}

// adjustActive is called by Watcher implementations whenever their
// active&&referenced state transitions, so Run knows when it may return
// (spec.md §4.2: "An unreferenced active watcher does not by itself keep
// the reactor running").
func (r *Reactor) adjustActive(delta int) {
	r.mu.Lock()
	r.activeRC += delta
	r.mu.Unlock()
	r.wake()
}

func (r *Reactor) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// Stop halts Run after the current iteration, without setting errFlag.
func (r *Reactor) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.wake()
}

// StopError halts Run after the current iteration and arranges for Run to
// return -1 (spec.md §4.2 "Error propagation").
func (r *Reactor) StopError() {
	r.mu.Lock()
	r.stopped = true
	r.errFlag = true
	r.mu.Unlock()
	r.wake()
}

// ErrFlag reports whether StopError has been called since the last Run.
func (r *Reactor) ErrFlag() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errFlag
}

// quiescent reports whether any watcher is both active and referenced.
// Pending timer-heap entries for an unreferenced watcher do not count:
// activeRC already reflects active&&referenced for every watcher kind,
// timers included (TimerWatcher.Start/Stop adjust it via base just like
// every other variant), so there is no separate timer-count term here.
func (r *Reactor) quiescent() bool {
	r.mu.Lock()
	rc := r.activeRC
	r.mu.Unlock()
	if rc != 0 {
		return false
	}
	r.microtasks.mu.Lock()
	pending := len(r.microtasks.tasks)
	r.microtasks.mu.Unlock()
	return pending == 0
}

// Run advances the loop per flags, returning the number of watcher
// callbacks invoked, or -1 if a callback called StopError (spec.md §4.2).
func (r *Reactor) Run(flags RunFlag) int {
	r.checkAffinity()

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		panic("reactor: Run is not reentrant")
	}
	r.running = true
	r.stopped = false
	r.errFlag = false
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	served := 0
	for {
		if r.quiescent() {
			return served
		}

		r.mu.Lock()
		stopped := r.stopped
		r.mu.Unlock()
		if stopped {
			break
		}

		served += r.iteration(flags)

		r.mu.Lock()
		stopped = r.stopped
		errf := r.errFlag
		r.mu.Unlock()
		if stopped {
			if errf {
				return -1
			}
			return served
		}

		switch flags {
		case NoWait, Once:
			return served
		}
	}

	r.mu.Lock()
	errf := r.errFlag
	r.mu.Unlock()
	if errf {
		return -1
	}
	return served
}

// iteration runs exactly one prepare/poll/dispatch/check cycle, mirroring
// libev's documented iteration order (also implicit in eventloop/loop.go's
// tick structure: drain ready work, then poll, then drain what the poll
// made ready) and returns the number of user callbacks invoked.
func (r *Reactor) iteration(flags RunFlag) int {
	served := 0

	served += r.runGroup(kindPrepare)
	served += r.microtasks.drain()

	timeout := r.nextTimeout(flags)
	ready := r.poller.poll(timeout)

	served += r.fireTimers()
	served += r.fireReady(ready)
	served += r.runGroup(kindIdle)
	served += r.runGroup(kindCheck)

	return served
}

// nextTimeout computes how long poll may block: zero if idle watchers are
// active (idle must fire every iteration, so the loop never blocks) or if
// no watcher is active and referenced any longer (Run is about to
// return), the time until the next timer fires if one is pending, or -1
// (block indefinitely) otherwise.
func (r *Reactor) nextTimeout(flags RunFlag) time.Duration {
	if flags == NoWait {
		return 0
	}
	if len(r.idleGroup.snapshot()) > 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeRC == 0 {
		return 0
	}
	if len(r.timers) == 0 {
		return -1
	}
	d := time.Until(r.timers[0].when)
	if d < 0 {
		d = 0
	}
	return d
}
