// Package matchtag implements the request/response correlator pool of
// spec.md §3/§4.3: an auto-growing set of 32-bit ids, with one reserved
// sentinel meaning "none", and double-free detection in debug mode.
//
// Grounded on eventloop/registry.go's id-allocation strategy (a monotonic
// nextID counter plus a structure for reclaiming freed ids), adapted from
// weak-pointer promise tracking to a dense free-list allocator: instead of
// scavenging GC'd promises, Pool reclaims explicitly Free'd tags.
package matchtag

import (
	"fmt"
	"sync"
)

// None is the sentinel matchtag meaning "no tag assigned" (spec.md §3
// "one reserved sentinel meaning none").
const None uint32 = 0

// Pool allocates and frees matchtags. The zero value is ready to use.
type Pool struct {
	mu sync.Mutex

	// nextID is the high-water mark; matches eventloop/registry.go's
	// nextID field and its "start at 1 so 0 is null marker" comment,
	// carried over verbatim as a design choice (0 == None here too).
	nextID uint32

	// free holds reclaimed ids available for reuse before nextID grows
	// further.
	free []uint32

	// allocated tracks currently-live ids, used only to detect double-free
	// and invalid-free in debug mode (spec.md §4.1-adjacent "Match-tag pool
	// invariant").
	allocated map[uint32]struct{}

	// debug enables double-free detection (spec.md's MATCHDEBUG handle
	// flag threads through to here).
	debug bool
}

// New constructs a Pool. debug enables double-free/invalid-free detection,
// mirroring the handle's MATCHDEBUG flag (spec.md §4.3).
func New(debug bool) *Pool {
	return &Pool{
		nextID:    1,
		allocated: make(map[uint32]struct{}),
		debug:     debug,
	}
}

// Alloc returns a fresh matchtag, expanding the pool on demand (spec.md
// §4.3 "matchtag_alloc() returns a fresh id, expanding the pool on
// demand").
func (p *Pool) Alloc() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var id uint32
	if n := len(p.free); n > 0 {
		id = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		id = p.nextID
		p.nextID++
		if id == None {
			// wrapped past uint32 max back to the sentinel; skip it
			id = p.nextID
			p.nextID++
		}
	}
	if p.debug {
		p.allocated[id] = struct{}{}
	}
	return id
}

// DoubleFreeError is returned (in debug mode only) by Free when id was not
// currently allocated, or equals the sentinel.
type DoubleFreeError struct {
	ID uint32
}

func (e *DoubleFreeError) Error() string {
	return fmt.Sprintf("matchtag: double free or invalid free of id %d", e.ID)
}

// Free releases id back to the pool. In debug mode, freeing an already-free
// id or the sentinel is detectable (spec.md §4.1/§4.3: "free(x) on an
// already-free or sentinel id is a detectable error in debug mode" — the
// handle logs this to stderr via its MATCHDEBUG path rather than treating
// it as fatal; see handle.Handle.MatchtagFree).
func (p *Pool) Free(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.debug {
		p.free = append(p.free, id)
		return nil
	}

	if id == None {
		return &DoubleFreeError{ID: id}
	}
	if _, ok := p.allocated[id]; !ok {
		return &DoubleFreeError{ID: id}
	}
	delete(p.allocated, id)
	p.free = append(p.free, id)
	return nil
}

// Avail reports how many matchtags can currently be allocated: the
// reclaimed ids on the free list plus every id from nextID up to the
// 32-bit maximum (None excluded). An Alloc followed by a Free of the same
// id restores it to its prior value.
func (p *Pool) Avail() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	unused := uint64(^uint32(0)) - uint64(p.nextID) + 1
	if p.nextID == None {
		unused-- // the sentinel is never handed out
	}
	return len(p.free) + int(unused)
}
