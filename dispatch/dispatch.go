// Package dispatch implements spec.md §4.7: topic-glob and matchtag-based
// message routing with method-override semantics for exact-topic
// collisions.
//
// Grounded on eventloop/eventtarget.go's EventTarget: the
// listenerID/listenerEntry/AddEventListener/RemoveEventListenerByID shape
// is carried over directly for the glob handler table (renamed to
// Dispatcher/HandlerID/Handler/Register/Unregister to match spec.md's
// vocabulary), generalized with the exact-topic override stack and
// matchtag fast path spec.md §4.7 adds on top of plain event-name
// dispatch.
package dispatch

import (
	"errors"
	"path"
	"sync"

	"github.com/resourcefab/msgfabric/msg"
)

// ErrInvalid mirrors spec.md's EINVAL for malformed match specs.
var ErrInvalid = errors.New("dispatch: invalid match spec")

// HandlerID uniquely identifies a registered handler for removal, the same
// role eventtarget.go's ListenerID plays (Go funcs aren't comparable).
type HandlerID uint64

// HandlerFunc processes one message. Returning true means the message was
// consumed; false requeues it to the parent (spec.md §4.7 "Clones").
type HandlerFunc func(m *msg.Message) (consumed bool)

// Match is a registration's binding: a message type plus either an exact
// topic, a glob pattern, or (for responses) matchtag-keyed routing is
// implicit in the message itself and requires no match field.
type Match struct {
	Type  msg.Type
	Topic string // exact topic, or a glob pattern (containing *, ? or [)
}

func (m Match) isGlob() bool {
	for _, r := range m.Topic {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

type entry struct {
	id      HandlerID
	match   Match
	handler HandlerFunc
	active  bool
}

// Dispatcher is spec.md §4.7's per-handle (or per-clone) dispatch table.
type Dispatcher struct {
	mu sync.Mutex

	nextID HandlerID

	// exact holds, per (type,topic), a stack of overriding handlers:
	// last-registered-first, matching spec.md's "method override... removal
	// of the override restores the previous binding."
	exact map[msg.Type]map[string][]*entry

	// globs holds glob-pattern handlers, tested in registration order per
	// type (spec.md doesn't specify ordering among multiple glob matches
	// beyond precedence under exact, so first-registered-first-tried is
	// used, matching eventtarget.go's listener-order dispatch).
	globs map[msg.Type][]*entry

	all map[HandlerID]*entry
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		exact: make(map[msg.Type]map[string][]*entry),
		globs: make(map[msg.Type][]*entry),
		all:   make(map[HandlerID]*entry),
	}
}

// Register creates a handler bound to match, in the stopped state; call
// Start to make it live (spec.md's handler_create returning a
// start/stop/destroy-toggled handler).
func (d *Dispatcher) Register(match Match, h HandlerFunc) (HandlerID, error) {
	if h == nil || match.Topic == "" {
		return 0, ErrInvalid
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	e := &entry{id: id, match: match, handler: h}
	d.all[id] = e
	return id, nil
}

// Start activates a registered handler, inserting it into the live match
// tables.
func (d *Dispatcher) Start(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.all[id]
	if !ok || e.active {
		return
	}
	e.active = true

	if e.match.isGlob() {
		d.globs[e.match.Type] = append(d.globs[e.match.Type], e)
		return
	}

	byTopic := d.exact[e.match.Type]
	if byTopic == nil {
		byTopic = make(map[string][]*entry)
		d.exact[e.match.Type] = byTopic
	}
	// Prepend: last-registered-first per spec.md's method override.
	byTopic[e.match.Topic] = append([]*entry{e}, byTopic[e.match.Topic]...)
}

// Stop deactivates a handler without destroying it; Start may re-arm it.
func (d *Dispatcher) Stop(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.all[id]
	if !ok || !e.active {
		return
	}
	e.active = false
	d.removeFromTablesLocked(e)
}

// Destroy permanently removes a handler.
func (d *Dispatcher) Destroy(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.all[id]
	if !ok {
		return
	}
	d.removeFromTablesLocked(e)
	delete(d.all, id)
}

func (d *Dispatcher) removeFromTablesLocked(e *entry) {
	if e.match.isGlob() {
		list := d.globs[e.match.Type]
		for i, v := range list {
			if v == e {
				d.globs[e.match.Type] = append(list[:i], list[i+1:]...)
				break
			}
		}
		return
	}
	byTopic := d.exact[e.match.Type]
	list := byTopic[e.match.Topic]
	for i, v := range list {
		if v == e {
			byTopic[e.match.Topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Dispatch implements spec.md §4.7's matching-order precedence:
//  1. Response: the matchtag fast path is decided by the handle (which
//     alone knows whether the route stack is empty and the matchtag
//     belongs to its own pool) before Dispatch is called (spec.md: "exact
//     matchtag match... wins the fast path"). Dispatch itself has no
//     matchtag step: a response reaching it is matched by glob only.
//  2. Request: exact topic, else glob.
//  3. Event/Control: glob only.
//
// Returns true if some handler consumed the message.
func (d *Dispatcher) Dispatch(m *msg.Message) bool {
	d.mu.Lock()
	var candidates []*entry
	if m.Type() == msg.Request {
		if list := d.exact[m.Type()][m.Topic()]; len(list) > 0 {
			candidates = append(candidates, list[0]) // most-recent override only
		}
	}
	if len(candidates) == 0 {
		for _, e := range d.globs[m.Type()] {
			if e.active && globMatch(e.match.Topic, m.Topic()) {
				candidates = append(candidates, e)
			}
		}
	}
	d.mu.Unlock()

	for _, e := range candidates {
		if e.handler(m) {
			return true
		}
	}
	return false
}

func globMatch(pattern, topic string) bool {
	ok, err := path.Match(pattern, topic)
	return err == nil && ok
}

// Matches reports whether m satisfies match, applying the same
// type-then-topic rule Dispatch uses. Exported for handle.Recv's filter
// parameter (spec.md §4.3 "messages not matching match are parked...and
// re-queued"), which needs the identical notion of "matches" without
// going through the handler table.
func Matches(match Match, m *msg.Message) bool {
	if match.Type != m.Type() {
		return false
	}
	if match.Topic == "" || match.Topic == "*" {
		return true
	}
	if match.isGlob() {
		return globMatch(match.Topic, m.Topic())
	}
	return match.Topic == m.Topic()
}
