// Package msg defines the reference-counted message record shared by every
// layer of the fabric: the deque, the dispatch table, the RPC tracker, and
// every connector.
package msg

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Type identifies the four message kinds the fabric routes.
type Type int

const (
	// Request expects a Response unless NoResponse is set.
	Request Type = iota
	// Response correlates back to a Request via Matchtag.
	Response
	// Event is a fire-and-forget broadcast, matched by topic glob only.
	Event
	// Control carries a (type, status) pair instead of a topic/payload.
	Control
)

func (t Type) String() string {
	switch t {
	case Request:
		return "request"
	case Response:
		return "response"
	case Event:
		return "event"
	case Control:
		return "control"
	default:
		return fmt.Sprintf("msg.Type(%d)", int(t))
	}
}

// Flags are per-message behavioral bits.
type Flags uint32

const (
	// NoResponse marks a request that does not expect a reply; the RPC
	// tracker never hashes such a request.
	NoResponse Flags = 1 << iota
	// Streaming marks a response as one of a series; the series terminates
	// on the first response without this flag. Message has no errnum field,
	// so an error code does not end a series.
	Streaming
	// Private suppresses a message's payload from trace logging.
	Private
)

// NoMatchtag is the sentinel meaning "no matchtag assigned."
const NoMatchtag uint32 = 0

// Credentials carries the sender's uid and rolemask, attached by the
// broker-side transport and consumed by the RPC tracker's synthesized
// error responses (§4.3 reconnect, §4.5 disconnect sweep).
type Credentials struct {
	UID      uint32
	Rolemask uint32
}

// Role bits, used by synthesized responses (spec.md §4.3 Reconnect).
const (
	RoleOwner uint32 = 1 << iota
	RoleUser
)

// Route is the ordered stack of first-hop/intermediate uuids a message has
// traversed. Enabled controls whether routing is active for this message;
// a disabled route stack is preserved but not consulted.
type Route struct {
	Hops    []string
	Enabled bool
}

// Reversed returns a new Route with Hops in reverse order, used when a
// Response is derived from a Request (spec.md §3 invariants, §8 "Route
// inversion").
func (r Route) Reversed() Route {
	out := make([]string, len(r.Hops))
	for i, h := range r.Hops {
		out[len(out)-1-i] = h
	}
	return Route{Hops: out, Enabled: r.Enabled}
}

// FirstHop returns the first uuid on the route stack, or "" if empty. This
// is the key the RPC tracker hashes on (spec.md §4.5).
func (r Route) FirstHop() string {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[0]
}

// Message is an opaque, reference-counted record. The zero value is not
// valid; use New.
type Message struct {
	typ      Type
	topic    string
	matchtag uint32
	hasTag   bool
	route    Route
	creds    Credentials
	flags    Flags
	payload  []byte

	// Control-only fields.
	ctrlType   int
	ctrlStatus int

	refs atomic.Int32

	// owner is the deque (or other single-owner container) this message is
	// currently linked into, or nil. It exists purely so Message.Linked can
	// report "already in a deque" the way spec.md §4.1 requires; the deque
	// package sets/clears it directly (same package-boundary trick the
	// teacher uses between eventloop's registry and promise: the owner
	// writes directly into the owned value's bookkeeping field).
	owner any
}

// New creates a Request or Event message with topic and payload. Use
// NewResponse to build a reply that inherits route/matchtag from a request.
func New(typ Type, topic string, payload []byte) *Message {
	m := &Message{
		typ:     typ,
		topic:   topic,
		payload: payload,
	}
	m.refs.Store(1)
	return m
}

// NewControl creates a Control message carrying a (type, status) pair
// (spec.md §6 "Error taxonomy exposed to the wire").
func NewControl(ctrlType, ctrlStatus int) *Message {
	m := &Message{typ: Control, ctrlType: ctrlType, ctrlStatus: ctrlStatus}
	m.refs.Store(1)
	return m
}

// NewResponse builds a Response to req: the route stack is reversed and the
// matchtag is preserved per spec.md §3's invariant and §8's round-trip law.
func NewResponse(req *Message, payload []byte) *Message {
	resp := &Message{
		typ:     Response,
		topic:   req.topic,
		route:   req.route.Reversed(),
		payload: payload,
	}
	if req.hasTag {
		resp.matchtag = req.matchtag
		resp.hasTag = true
	}
	resp.refs.Store(1)
	return resp
}

// NewUUID returns a fresh route-hop identifier. Exposed so connectors and
// the plugin loader can mint uuids the same way (google/uuid, matching the
// original's string-uuid convention).
func NewUUID() string { return uuid.NewString() }

// Type returns the message's type.
func (m *Message) Type() Type { return m.typ }

// Topic returns the message's topic string ("" for Control messages).
func (m *Message) Topic() string { return m.topic }

// Matchtag returns the assigned matchtag and whether one is set.
func (m *Message) Matchtag() (uint32, bool) { return m.matchtag, m.hasTag }

// SetMatchtag assigns a matchtag, as done by the matchtag allocator on send.
func (m *Message) SetMatchtag(tag uint32) {
	m.matchtag = tag
	m.hasTag = true
}

// ClearMatchtag removes any matchtag assignment (returns to the sentinel).
func (m *Message) ClearMatchtag() {
	m.matchtag = NoMatchtag
	m.hasTag = false
}

// Route returns the message's route stack.
func (m *Message) Route() Route { return m.route }

// SetRoute replaces the route stack, e.g. when a connector pushes a hop.
func (m *Message) SetRoute(r Route) { m.route = r }

// PushHop prepends a hop to the route stack (used by connectors forwarding
// through an intermediate broker).
func (m *Message) PushHop(uuid string) {
	m.route.Hops = append([]string{uuid}, m.route.Hops...)
}

// Credentials returns the sender's credentials.
func (m *Message) Credentials() Credentials { return m.creds }

// SetCredentials assigns credentials, e.g. when synthesizing an
// ECONNRESET/EHOSTUNREACH response (spec.md §4.3, §4.5).
func (m *Message) SetCredentials(c Credentials) { m.creds = c }

// Flags returns the message's flag bits.
func (m *Message) Flags() Flags { return m.flags }

// SetFlags replaces the flag bits.
func (m *Message) SetFlags(f Flags) { m.flags = f }

// HasFlag reports whether f is set.
func (m *Message) HasFlag(f Flags) bool { return m.flags&f != 0 }

// Payload returns the opaque payload bytes.
func (m *Message) Payload() []byte { return m.payload }

// SetPayload replaces the payload.
func (m *Message) SetPayload(p []byte) { m.payload = p }

// Control returns the (type, status) pair of a Control message.
func (m *Message) Control() (int, int) { return m.ctrlType, m.ctrlStatus }

// Refs returns the current reference count.
func (m *Message) Refs() int32 { return m.refs.Load() }

// Clone increments the reference count and returns m itself: messages are
// shared by reference, not deep-copied, matching spec.md §9's "reference-
// counted ownership" mapping.
func (m *Message) Clone() *Message {
	m.refs.Add(1)
	return m
}

// Release decrements the reference count. Messages have no destructor beyond
// GC once refs reaches zero; Release exists so callers can assert the
// "refcount == 1 to cross threads" invariant (spec.md §3, §5) explicitly.
func (m *Message) Release() int32 {
	return m.refs.Add(-1)
}

// Owner returns the container this message is currently linked into, or nil.
func (m *Message) Owner() any { return m.owner }

// SetOwner is called by msgdeque.Deque (and any other single-owner
// container) when linking/unlinking a message. It is exported for use
// across the package boundary, not for general callers.
func (m *Message) SetOwner(owner any) { m.owner = owner }

// Linked reports whether the message currently belongs to a container.
func (m *Message) Linked() bool { return m.owner != nil }
