// Package socketwatcher implements spec.md §4.9: a generic aggregate
// watcher for transports that expose an edge-triggered readiness fd plus a
// sampled events bitmask (as 0MQ-style sockets do) rather than a simple
// always-armed fd.
//
// Grounded on eventloop/loop.go's prepare/check pairing (also the basis of
// reactor's own microtask draining, reactor/reactor.go's
// runGroup(kindPrepare)/runGroup(kindCheck) bracket): there, prepare
// samples what work is pending and check acts on what prepare found; here
// prepare samples the events mask and check acts on it, with an idle or fd
// watcher bridging the gap so the loop neither busy-spins nor blocks past
// the moment the mask changes.
package socketwatcher

import (
	"github.com/resourcefab/msgfabric/reactor"
)

// Events is the readiness bitset a Sampler reports, matching spec.md
// §4.4's connector pollevents shape.
type Events uint32

const (
	In Events = 1 << iota
	Out
	Err
)

// Has reports whether e contains all bits in mask.
func (e Events) Has(mask Events) bool { return e&mask == mask }

// Any reports whether e shares any bit with mask.
func (e Events) Any(mask Events) bool { return e&mask != 0 }

// Sampler is the transport-provided readiness source: PollFD returns an fd
// that becomes readable when Sample's result may have changed; Sample
// returns the current bitmask (spec.md's connector pollfd/pollevents ops).
type Sampler interface {
	PollFD() int
	Sample() Events
}

// Watcher is the aggregate socket-event watcher. The zero value is not
// valid; use New.
type Watcher struct {
	r        *reactor.Reactor
	s        Sampler
	interest Events
	cb       func(fired Events)

	prepare reactor.Watcher
	check   reactor.Watcher
	idle    reactor.Watcher
	fd      *reactor.FDWatcher

	started bool
}

// New constructs a Watcher bound to r, sampling s, interested in the bits
// set in interest, invoking cb with whichever interested bits fired.
func New(r *reactor.Reactor, s Sampler, interest Events, cb func(fired Events)) *Watcher {
	w := &Watcher{r: r, s: s, interest: interest, cb: cb}

	w.prepare = r.NewPrepare(w.onPrepare)
	w.check = r.NewCheck(w.onCheck)
	w.idle = r.NewIdle(func() {})
	w.fd = r.NewFD(s.PollFD(), reactor.EventRead, func(reactor.IOEvents) {})

	return w
}

// onPrepare samples the events mask. If any interested bit is already
// asserted, an idle watcher keeps the loop spinning (so check gets another
// chance immediately); otherwise an fd watcher waits on the readiness fd
// (spec.md "otherwise, start an fd watcher on the readiness fd").
func (w *Watcher) onPrepare() {
	if w.s.Sample().Any(w.interest) {
		w.idle.Start()
	} else {
		w.fd.Start()
	}
}

// onCheck stops both idle and fd watchers, re-samples, and fires cb if any
// interested bit is now asserted (spec.md "check watcher stops both idle
// and fd watchers, re-samples events, and if any bit in the interest set
// fires, calls the user's callback with the fired bits").
func (w *Watcher) onCheck() {
	w.idle.Stop()
	w.fd.Stop()

	if fired := w.s.Sample() & w.interest; fired != 0 {
		w.cb(fired)
	}
}

// Start activates the watcher.
func (w *Watcher) Start() {
	if w.started {
		return
	}
	w.started = true
	w.prepare.Start()
	w.check.Start()
}

// Stop deactivates the watcher and all four inner watchers.
func (w *Watcher) Stop() {
	if !w.started {
		return
	}
	w.started = false
	w.prepare.Stop()
	w.check.Stop()
	w.idle.Stop()
	w.fd.Stop()
}

// Destroy destroys all four inner watchers (spec.md "Destruction destroys
// all four inner watchers").
func (w *Watcher) Destroy() {
	w.Stop()
	w.prepare.Destroy()
	w.check.Destroy()
	w.idle.Destroy()
	w.fd.Destroy()
}
