// Package rpctrack implements spec.md §4.5: a hash of in-flight requests
// keyed by (first-hop uuid, matchtag), so that every tracked request is
// guaranteed a response — either the real one or a synthesized error on
// reconnect/disconnect.
//
// Grounded on original_source/src/common/librouter/msg_hash.c: the key
// shape (uuid, matchtag), the insertion/removal rules, and the 33-ary
// modified-Bernstein fingerprint are all carried over from that file's
// msg_hash_uuid_matchtag_hasher/msg_hash_uuid_matchtag_key_cmp, even though
// a Go map needs no exposed hash function — fingerprint is kept as a pure,
// independently testable function for parity with the original's
// iteration/eviction order, which the original's debug logging exposed to
// callers.
package rpctrack

import (
	"sync"

	"github.com/resourcefab/msgfabric/msg"
)

// key mirrors msg_hash.c's (uuid, matchtag) composite, compared the same
// way: uuid by string equality, then matchtag numerically.
type key struct {
	uuid     string
	matchtag uint32
}

// Fingerprint computes the 33-ary modified-Bernstein hash msg_hash.c uses
// over the uuid bytes followed by the matchtag's native-order bytes
// (`cp = (const char *)&matchtag`, a plain struct-member reinterpret on a
// little-endian machine — preserved here as little-endian for parity with
// the original running on its reference platform). Go's map does not use
// this value; it exists purely so the original algorithm has a point of
// comparison (see rpctrack_test.go).
func Fingerprint(uuid string, matchtag uint32) uint64 {
	var h uint64
	for i := 0; i < len(uuid); i++ {
		h = 33*h ^ uint64(uuid[i])
	}
	var b [4]byte
	b[0] = byte(matchtag)
	b[1] = byte(matchtag >> 8)
	b[2] = byte(matchtag >> 16)
	b[3] = byte(matchtag >> 24)
	for _, c := range b {
		h = 33*h ^ uint64(c)
	}
	return h
}

// Tracker is the in-flight-request hash of spec.md §4.5. The zero value is
// not valid; use New.
type Tracker struct {
	mu      sync.Mutex
	entries map[key]*msg.Message
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[key]*msg.Message)}
}

// Insert records req as in-flight, iff it is hashable: it carries a
// matchtag other than the sentinel and does not have NoResponse set
// (spec.md "A request is inserted iff it is hashable ... and does not have
// NORESPONSE set"). Returns false if req was not inserted (either reason).
// req is retained by reference (Clone), matching msg_hash.c's duplicator
// calling flux_msg_incref.
func (t *Tracker) Insert(req *msg.Message) bool {
	if req.HasFlag(msg.NoResponse) {
		return false
	}
	tag, ok := req.Matchtag()
	if !ok || tag == msg.NoMatchtag {
		return false
	}
	k := key{uuid: req.Route().FirstHop(), matchtag: tag}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[k] = req.Clone()
	return true
}

// Remove matches an incoming response against the tracked request it
// answers and removes the entry, per spec.md's removal rule: "non-
// streaming, or streaming with errnum != 0 (terminating error)". isTerminal
// should be true for any non-streaming response, or a streaming response
// that carries a terminating error. Returns the tracked request (so the
// caller can release/compare it), or nil if no entry matched. A response's
// route is its request's route reversed (msg.NewResponse), so the
// request's first hop is the response's last hop.
func (t *Tracker) Remove(resp *msg.Message, isTerminal bool) *msg.Message {
	if !isTerminal {
		return nil
	}
	tag, ok := resp.Matchtag()
	if !ok {
		return nil
	}
	var uuid string
	if hops := resp.Route().Hops; len(hops) > 0 {
		uuid = hops[len(hops)-1]
	}
	k := key{uuid: uuid, matchtag: tag}

	t.mu.Lock()
	defer t.mu.Unlock()
	req, found := t.entries[k]
	if !found {
		return nil
	}
	delete(t.entries, k)
	return req
}

// PurgeUUID removes every entry whose first-hop uuid equals uuid, invoking
// fn for each (spec.md: "A request addressed to *.disconnect removes every
// entry with a matching first-hop uuid").
func (t *Tracker) PurgeUUID(uuid string, fn func(req *msg.Message)) int {
	t.mu.Lock()
	var victims []*msg.Message
	for k, req := range t.entries {
		if k.uuid == uuid {
			victims = append(victims, req)
			delete(t.entries, k)
		}
	}
	t.mu.Unlock()

	for _, req := range victims {
		if fn != nil {
			fn(req)
		}
	}
	return len(victims)
}

// Purge invokes fn for every tracked entry and empties the hash (spec.md
// "purge(fn, arg) ... empties the hash. Used on reconnect").
func (t *Tracker) Purge(fn func(req *msg.Message)) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[key]*msg.Message)
	t.mu.Unlock()

	for _, req := range entries {
		if fn != nil {
			fn(req)
		}
	}
}

// Count returns the current number of tracked requests.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ServerHash is the supplemented (SPEC_FULL.md §3) server-side counterpart:
// tracks in-flight requests this side is *answering*, keyed the same way,
// used by a module/broker to know which requests it still owes a response
// to when it is about to exit (so it can synthesize EHOSTUNREACH on behalf
// of a disconnecting peer, rather than relying solely on the peer's own
// reconnect-driven purge). Identical shape to Tracker; kept as a distinct
// type so call sites document which side of the RPC they track.
type ServerHash = Tracker

// NewServerHash constructs a ServerHash.
func NewServerHash() *ServerHash { return New() }
