package handle

import (
	"github.com/resourcefab/msgfabric/reactor"
	"github.com/resourcefab/msgfabric/socketwatcher"
)

// Sample satisfies socketwatcher.Sampler, translating the connector's
// Events bitset (connector package) into socketwatcher's identically-
// shaped but independently-defined Events type.
func (h *Handle) Sample() socketwatcher.Events {
	ev := h.conn.PollEvents()
	var out socketwatcher.Events
	if ev&1 != 0 { // connector.In
		out |= socketwatcher.In
	}
	if ev&2 != 0 { // connector.Out
		out |= socketwatcher.Out
	}
	if ev&4 != 0 { // connector.Err
		out |= socketwatcher.Err
	}
	return out
}

// NewWatcher builds a socketwatcher.Watcher bound to r, driven by this
// handle's connector readiness, invoking cb whenever the given interest
// bits fire (spec.md §4.9: "the same pattern underlies the handle
// watcher"). Recv does not use it; it is for callers driving a handle
// from a reactor rather than a plain blocking loop.
func (h *Handle) NewWatcher(r *reactor.Reactor, interest socketwatcher.Events, cb func(socketwatcher.Events)) *socketwatcher.Watcher {
	return socketwatcher.New(r, h, interest, cb)
}
