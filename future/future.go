// Package future implements spec.md §4.6: a result cell with blocking
// "now" semantics and continuation-based "then" semantics, and-then/or-then
// chaining, a multi-fulfillment FIFO queue, and a sticky fatal-error
// override.
//
// Grounded on eventloop/promise.go's ChainedPromise: the Result/state/
// settle/addHandler/scheduleHandler shape is carried over directly (a
// Future *is* a promise whose settlement additionally interacts with a
// Reactor's now/then machinery instead of a JS-style microtask queue), with
// Then/Catch renamed to AndThen/OrThen to match spec.md's vocabulary and a
// deferred-results queue added for multi-fulfillment (something
// ChainedPromise, being single-settlement only, has no analogue for).
package future

import (
	"errors"
	"sync"
	"time"

	"github.com/resourcefab/msgfabric/reactor"
)

// Errors matching spec.md §4.6 "Errors".
var (
	ErrInvalid    = errors.New("future: invalid argument")
	ErrAgain      = errors.New("future: source future not yet ready")
	ErrTimedOut   = errors.New("future: wait_for timed out")
	ErrDeadlock   = errors.New("future: reactor exited without progress")
	ErrExist      = errors.New("future: embedded future already adopted a different future")
)

// Result is a settled future's payload: either a value (Err == nil) or a
// failure (Err != nil, optionally wrapping errstr via Error()).
type Result struct {
	Value any
	Err   error
}

type state int

const (
	pending state = iota
	fulfilled
	hasFatal
)

// continuation mirrors eventloop/promise.go's handler: a reaction to
// settlement, targeting a child Future.
type continuation struct {
	onSuccess func(f *Future, arg any)
	onFailure func(f *Future, arg any)
	arg       any
}

// Future is spec.md §4.6's Future. The zero value is not valid; use New.
type Future struct {
	mu sync.Mutex

	r  *reactor.Reactor
	h  any // opaque handle association, set via SetFlux; spec.md's *flux_t
	aux map[string]any

	st     state
	result Result
	fatal  error

	queue []Result // multi-fulfillment FIFO

	embedded *Future // the single future adopted via FulfillWith

	handlers []continuation

	refs int32
}

// New creates a pending Future, optionally bound to a reactor (for then-mode
// scheduling; now-mode spins up its own private reactor regardless).
func New(r *reactor.Reactor) *Future {
	return &Future{r: r, refs: 1}
}

// SetFlux binds h as this future's associated handle (spec.md "Handle
// association"). The handle type itself is opaque to this package — it's
// whatever the handle package passes in — avoiding an import cycle between
// future and handle.
func (f *Future) SetFlux(h any) { f.mu.Lock(); f.h = h; f.mu.Unlock() }

// Flux returns the bound handle, or nil.
func (f *Future) Flux() any { f.mu.Lock(); defer f.mu.Unlock(); return f.h }

// Ref/Unref implement the refcount spec.md's Future carries.
func (f *Future) Ref()   { f.mu.Lock(); f.refs++; f.mu.Unlock() }
func (f *Future) Unref() { f.mu.Lock(); f.refs--; f.mu.Unlock() }

// IsReady reports whether the future has settled (a result or fatal error
// is present) and is not waiting on a queued reset.
func (f *Future) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st != pending
}

// Fulfill sets a successful result (spec.md "fulfill(value, free-fn)"; Go's
// GC stands in for the free-fn).
func (f *Future) Fulfill(value any) { f.settle(Result{Value: value}) }

// FulfillError sets a failure result (spec.md "fulfill_error").
func (f *Future) FulfillError(err error) {
	if err == nil {
		err = ErrInvalid
	}
	f.settle(Result{Err: err})
}

// FatalError sets a sticky fatal error that overrides any normal result;
// subsequent Fulfill/FulfillError calls are ignored once set (spec.md
// "fatal supersedes result").
func (f *Future) FatalError(err error) {
	if err == nil {
		err = ErrInvalid
	}
	f.mu.Lock()
	if f.st == hasFatal {
		f.mu.Unlock()
		return
	}
	f.st = hasFatal
	f.fatal = err
	handlers := f.drainHandlersLocked()
	f.mu.Unlock()
	f.scheduleAll(handlers)
}

// FulfillWith adopts other's settled result (or fatal error). Per spec.md's
// strict embedding rule, f may only ever adopt the *same* other future
// across repeated calls — adopting a second, different future fails with
// ErrExist. Returns ErrAgain if other is not yet settled.
func (f *Future) FulfillWith(other *Future) error {
	if other == nil || other == f {
		return ErrInvalid
	}

	f.mu.Lock()
	if f.embedded != nil && f.embedded != other {
		f.mu.Unlock()
		return ErrExist
	}
	f.embedded = other
	f.mu.Unlock()

	if !other.IsReady() {
		return ErrAgain
	}

	other.mu.Lock()
	fatal := other.fatal
	st := other.st
	res := other.result
	other.mu.Unlock()

	if st == hasFatal {
		f.FatalError(fatal)
		return nil
	}
	f.settle(res)
	return nil
}

func (f *Future) settle(res Result) {
	f.mu.Lock()
	if f.st == hasFatal {
		f.mu.Unlock()
		return
	}
	if f.st == fulfilled {
		// Multi-fulfillment: already valid, append (spec.md "Multi-
		// fulfillment").
		f.queue = append(f.queue, res)
		f.mu.Unlock()
		return
	}
	f.st = fulfilled
	f.result = res
	handlers := f.drainHandlersLocked()
	f.mu.Unlock()
	f.scheduleAll(handlers)
}

func (f *Future) drainHandlersLocked() []continuation {
	h := f.handlers
	f.handlers = nil
	return h
}

func (f *Future) scheduleAll(handlers []continuation) {
	for _, h := range handlers {
		f.runHandler(h)
	}
}

func (f *Future) runHandler(h continuation) {
	f.mu.Lock()
	st := f.st
	res := f.result
	fatal := f.fatal
	f.mu.Unlock()

	if st == hasFatal {
		if h.onFailure != nil {
			h.onFailure(nil, h.arg)
		}
		return
	}
	if res.Err != nil {
		if h.onFailure != nil {
			h.onFailure(nil, h.arg)
		}
	} else {
		if h.onSuccess != nil {
			h.onSuccess(nil, h.arg)
		}
	}
	_ = fatal
}

// Reset clears the current result. If the multi-fulfillment queue is
// non-empty, the next queued result becomes current (spec.md "reset...
// pops it"); otherwise the future returns to pending.
func (f *Future) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st == hasFatal {
		return
	}
	if len(f.queue) > 0 {
		f.result = f.queue[0]
		f.queue = f.queue[1:]
		f.st = fulfilled
		return
	}
	f.st = pending
	f.result = Result{}
}

// Get returns the current value/error, or (nil, ErrAgain) if not yet
// settled. A fatal error always takes precedence over any normal result.
func (f *Future) Get() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.st {
	case hasFatal:
		return nil, f.fatal
	case fulfilled:
		return f.result.Value, f.result.Err
	default:
		return nil, ErrAgain
	}
}

// AuxSet/AuxGet expose an auxiliary side-table on the future, mirroring
// spec.md's "aux" member (the same key-value-destructor container the
// handle and plugin types carry, but futures only need plain storage here
// since no package outside future constructs or destroys one).
func (f *Future) AuxSet(key string, val any) {
	f.mu.Lock()
	if f.aux == nil {
		f.aux = make(map[string]any)
	}
	f.aux[key] = val
	f.mu.Unlock()
}

func (f *Future) AuxGet(key string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aux[key]
}

// WaitFor implements "now" mode (spec.md §4.6): blocks the calling
// goroutine, running a private throw-away reactor until the future settles
// or timeout elapses. A zero timeout blocks indefinitely.
func (f *Future) WaitFor(timeout time.Duration) error {
	if f.IsReady() {
		_, err := f.Get()
		return err
	}

	priv, err := reactor.New()
	if err != nil {
		return err
	}
	defer priv.Unref()

	done := make(chan struct{})
	var once sync.Once
	settle := func() { once.Do(func() { close(done) }) }

	f.addHandlerInternal(continuation{
		onSuccess: func(*Future, any) { settle(); priv.Stop() },
		onFailure: func(*Future, any) { settle(); priv.Stop() },
	})

	var timedOut bool
	var tw *reactor.TimerWatcher
	if timeout > 0 {
		tw = priv.NewTimer(timeout, 0, func() {
			timedOut = true
			priv.Stop()
		})
		tw.Start()
	}

	// Keep the private reactor alive until settlement or timeout: an idle
	// watcher that does nothing but hold a reference, since nothing else
	// may ever become active on this throw-away loop.
	keepAlive := priv.NewIdle(func() {})
	keepAlive.Start()

	served := priv.Run(reactor.Default)

	select {
	case <-done:
		if tw != nil {
			tw.Stop()
		}
		_, err := f.Get()
		return err
	default:
	}

	if timedOut {
		return ErrTimedOut
	}
	_ = served
	return ErrDeadlock
}

// addHandlerInternal attaches h, scheduling immediately if already settled.
func (f *Future) addHandlerInternal(h continuation) {
	f.mu.Lock()
	if f.st != pending {
		f.mu.Unlock()
		f.runHandler(h)
		return
	}
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

// Then installs a continuation in "then" mode (spec.md §4.6): cb fires on
// the reactor r (or f's bound reactor if r is nil) once the future settles,
// or once timeout elapses first (delivering ErrTimedOut). A check-watcher
// fires the continuation; an idle-watcher keeps the reactor alive until it
// has run, mirroring libflux's pairing described in spec.md.
func (f *Future) Then(r *reactor.Reactor, timeout time.Duration, cb func(*Future, error)) {
	if r == nil {
		r = f.r
	}

	fired := make(chan struct{}, 1)
	var once sync.Once
	signal := func() { once.Do(func() { fired <- struct{}{} }) }

	idle := r.NewIdle(func() {})
	idle.Start()

	var check reactor.Watcher
	check = r.NewCheck(func() {
		select {
		case <-fired:
			_, err := f.Get()
			idle.Stop()
			idle.Destroy()
			check.Stop()
			check.Destroy()
			cb(f, err)
		default:
		}
	})
	check.Start()

	var tw *reactor.TimerWatcher
	if timeout > 0 {
		tw = r.NewTimer(timeout, 0, func() {
			f.mu.Lock()
			already := f.st != pending
			f.mu.Unlock()
			if !already {
				f.FulfillError(ErrTimedOut)
			}
			signal()
		})
		tw.Start()
	}

	f.addHandlerInternal(continuation{
		onSuccess: func(*Future, any) {
			if tw != nil {
				tw.Stop()
			}
			signal()
		},
		onFailure: func(*Future, any) {
			if tw != nil {
				tw.Stop()
			}
			signal()
		},
	})
}
