// Package msgdeque implements the reactive, output-restricted thread-safe
// FIFO of spec.md §3/§4.1: an edge-triggered eventfd-backed queue of
// *msg.Message, read by a reactor fd watcher or the aggregate handle
// watcher (socketwatcher).
package msgdeque

import (
	"errors"
	"sync"

	"github.com/resourcefab/msgfabric/msg"
)

// ErrAliased is returned by Push when a message's refcount is greater than
// 1 in multi-thread mode (spec.md §4.1 "aliasing across threads").
var ErrAliased = errors.New("msgdeque: message refcount > 1, would alias across threads")

// ErrLinked is returned by Push when the message is already linked into a
// deque (spec.md §3 invariant, §8 "Deque membership").
var ErrLinked = errors.New("msgdeque: message already linked into a deque")

// Events is the pollevents bitset.
type Events uint32

const (
	// In is asserted iff the deque is non-empty.
	In Events = 1 << iota
	// Out is always asserted: there is no size cap on this deque (spec.md
	// §3 Message-deque invariants).
	Out
	// Err completes the connector-style pollevents shape; Deque.PollEvents
	// never asserts it.
	Err
)

// Flag configures Create.
type Flag int

const (
	// Default creates a thread-safe deque.
	Default Flag = 0
	// SingleThread elides the lock, for deques never shared across
	// goroutines (e.g. a handle's own re-queue list when the handle is
	// confined to one reactor).
	SingleThread Flag = 1 << iota
)

// Deque is the FIFO described by spec.md §3/§4.1. The zero value is not
// valid; use Create.
type Deque struct {
	mu    sync.Mutex
	cond  *sync.Cond
	flags Flag
	r     *ring
	count int
	closed bool

	// pollfd machinery: an eventfd raised to 1 on the IN-edge transition,
	// lowered lazily on the next PollEvents() read once empty. Grounded on
	// eventloop's wakeup_linux.go / wakeup_darwin.go self-pipe/eventfd
	// split (an eventfd on Linux; fd_other.go uses a self-pipe and
	// fd_windows.go a loopback socket pair).
	fd       int
	fdInited bool
	raised   bool
}

// ErrClosed is returned by PopFrontBlocking once Destroy has been called and
// the deque has drained, so a blocked Recv unwinds instead of hanging past
// shutdown.
var ErrClosed = errors.New("msgdeque: closed")

// Create constructs an empty Deque.
func Create(flags Flag) *Deque {
	d := &Deque{flags: flags, r: newRing()}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// lock is a no-op under SingleThread.
func (d *Deque) lock() {
	if d.flags&SingleThread == 0 {
		d.mu.Lock()
	}
}

func (d *Deque) unlock() {
	if d.flags&SingleThread == 0 {
		d.mu.Unlock()
	}
}

// PushBack enqueues m at the tail, stealing the caller's reference on
// success (spec.md §4.1 Contract).
func (d *Deque) PushBack(m *msg.Message) error { return d.push(m, false) }

// PushFront re-queues m at the head (spec.md §4.3 Requeue FRONT).
func (d *Deque) PushFront(m *msg.Message) error { return d.push(m, true) }

func (d *Deque) push(m *msg.Message, front bool) error {
	if m == nil {
		return errInvalid
	}
	if d.flags&SingleThread == 0 && m.Refs() > 1 {
		return ErrAliased
	}
	if m.Linked() {
		return ErrLinked
	}

	d.lock()
	defer d.unlock()

	wasEmpty := d.count == 0
	if front {
		d.r.PushFront(m)
	} else {
		d.r.PushBack(m)
	}
	d.count++
	m.SetOwner(d)

	if wasEmpty {
		d.raiseLocked()
	}
	d.cond.Broadcast()
	return nil
}

// PopFront dequeues and returns the head message, or nil if empty. The
// returned message's owner is cleared (spec.md §3 "at most one deque").
func (d *Deque) PopFront() *msg.Message {
	d.lock()
	defer d.unlock()

	v := d.r.PopFront()
	if v == nil {
		return nil
	}
	m := v.(*msg.Message)
	m.SetOwner(nil)
	d.count--
	return m
}

// PopFrontBlocking dequeues the head message, waiting on an internal
// condition variable while the deque is empty and open (spec.md §4.1/§4.4:
// a blocking recv genuinely waits for the next message, unlike the
// PollEvents/PopFront pair a non-blocking caller polls instead). It returns
// ErrClosed if Destroy is called while a caller is waiting.
//
// Calling this on a SingleThread deque is a caller error: SingleThread
// elides the mutex this method needs to coordinate with a concurrent
// pusher, so nothing could ever wake the wait.
func (d *Deque) PopFrontBlocking() (*msg.Message, error) {
	d.mu.Lock()
	for d.count == 0 && !d.closed {
		d.cond.Wait()
	}
	if d.count == 0 {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	v := d.r.PopFront()
	m := v.(*msg.Message)
	m.SetOwner(nil)
	d.count--
	d.mu.Unlock()
	return m, nil
}

// Empty reports whether the deque currently holds no messages.
func (d *Deque) Empty() bool {
	d.lock()
	defer d.unlock()
	return d.count == 0
}

// Count returns the number of queued messages.
func (d *Deque) Count() int {
	d.lock()
	defer d.unlock()
	return d.count
}

// PollEvents returns the current readiness bitset, lowering the pollfd's
// raised state if the queue has drained to empty (spec.md §4.1 Readiness:
// "lowered on the next pollevents read when the queue is empty").
func (d *Deque) PollEvents() Events {
	d.lock()
	defer d.unlock()

	ev := Out
	if d.count > 0 {
		ev |= In
	} else {
		d.lowerLocked()
	}
	return ev
}

// PollFD lazily creates and returns the edge-triggered readiness file
// descriptor (spec.md §4.1 Readiness: "pollfd is created lazily").
func (d *Deque) PollFD() (int, error) {
	d.lock()
	defer d.unlock()
	if !d.fdInited {
		fd, err := createWakeFD()
		if err != nil {
			return -1, err
		}
		d.fd = fd
		d.fdInited = true
		if d.count > 0 {
			d.raiseLocked()
		}
	}
	return d.fd, nil
}

// raiseLocked raises the readiness fd if it hasn't been already and a
// pollfd has been created. Must be called with the lock held (or under
// SingleThread).
func (d *Deque) raiseLocked() {
	if d.fdInited && !d.raised {
		raiseWakeFD(d.fd)
		d.raised = true
	}
}

// lowerLocked drains the readiness fd. Must be called with the lock held.
func (d *Deque) lowerLocked() {
	if d.fdInited && d.raised {
		drainWakeFD(d.fd)
		d.raised = false
	}
}

// Destroy releases the pollfd, if one was created, and wakes any caller
// blocked in PopFrontBlocking with ErrClosed.
func (d *Deque) Destroy() error {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	d.lock()
	defer d.unlock()
	if d.fdInited {
		err := closeWakeFD(d.fd)
		d.fdInited = false
		return err
	}
	return nil
}
