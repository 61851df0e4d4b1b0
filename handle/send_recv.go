package handle

import (
	"errors"
	"fmt"

	"github.com/resourcefab/msgfabric/connector"
	"github.com/resourcefab/msgfabric/dispatch"
	"github.com/resourcefab/msgfabric/future"
	"github.com/resourcefab/msgfabric/msg"
)

// ErrTransportClosed surfaces a connector reporting it has no further
// reconnect path (spec.md §4.3 "Disconnection").
var ErrTransportClosed = errors.New("handle: transport closed")

// reconnectNote is the fixed payload every synthesized response carries on
// reconnect, standing in for the original's ECONNRESET (spec.md §4.3
// Reconnect: "a fixed note").
const reconnectNote = "RPC aborted due to broker reconnect"

// Reconnect reconnects the underlying connector and, if this handle tracks
// RPCs, purges every in-flight request from the tracker, synthesizing a
// Response for each one (spec.md §4.3 "Reconnect": "reconnect(h) calls the
// connector's reconnect, then purges the RPC tracker, synthesizing
// responses stamped with FLUX_ROLE_OWNER and a fixed note, requeued at the
// tail"). The synthesized response carries reconnectNote as its payload;
// msg.Message has no errno field, so no ECONNRESET code is attached.
// Synthesized responses are appended to the tail of the requeue deque,
// behind any messages already parked there; since Recv scans the requeue
// deque before reading the connector, they are offered ahead of traffic
// that arrives afterwards.
func (h *Handle) Reconnect() error {
	if err := h.conn.Reconnect(); err != nil {
		return err
	}
	if h.tracker == nil {
		return nil
	}
	var errs []error
	h.tracker.Purge(func(req *msg.Message) {
		resp := msg.NewResponse(req, []byte(reconnectNote))
		resp.SetCredentials(msg.Credentials{Rolemask: msg.RoleOwner})
		if h.requeue != nil {
			if err := h.requeue.PushBack(resp); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Send transmits m (spec.md §4.3 send()). Ownership of m is always
// consumed on success, matching spec.md's non-owning send semantics (the
// caller must not touch m afterward).
func (h *Handle) Send(m *msg.Message) error {
	if m == nil {
		return ErrInvalid
	}
	h.stampCredentials(m)
	h.trace("send", m)
	err := h.sendWithRetry(m, h.flags&Nonblock != 0)
	if err == nil {
		h.Counters.countTx(m.Type())
		if h.promTx != nil {
			h.promTx.WithLabelValues(typeLabel(m.Type())).Inc()
		}
	}
	return err
}

// trace logs m at trace level iff the handle was opened with TRACE,
// withholding the payload of any message carrying msg.Private (spec.md
// §4.3 "TRACE"; msg.Private's doc comment: "suppresses a message's payload
// from trace logging").
func (h *Handle) trace(verb string, m *msg.Message) {
	if h.flags&Trace == 0 {
		return
	}
	if m.HasFlag(msg.Private) {
		h.log.Trace().Log(fmt.Sprintf("%s %s %q", verb, m.Type(), m.Topic()))
		return
	}
	h.log.Trace().Log(fmt.Sprintf("%s %s %q payload=%q", verb, m.Type(), m.Topic(), m.Payload()))
}

// SendNew is spec.md's ownership-transferring send: on success *mp is set
// to nil, mirroring the original's "pointer is nulled on success" so a
// caller can never accidentally reuse a message the transport has taken.
// When the connector exposes the SendNewer fast path and no RPC tracker is
// attached, it's used directly; otherwise this falls back to Send.
func (h *Handle) SendNew(mp **msg.Message) error {
	if mp == nil || *mp == nil {
		return ErrInvalid
	}
	m := *mp
	h.stampCredentials(m)
	h.trace("send", m)

	nonblock := h.flags&Nonblock != 0
	var err error
	if sn, ok := h.conn.(connector.SendNewer); ok && h.tracker == nil {
		err = h.connSendWithRetry(func() error { return sn.SendNew(m, nonblock) })
	} else {
		err = h.sendWithRetry(m, nonblock)
	}
	if err != nil {
		return err
	}

	*mp = nil
	h.Counters.countTx(m.Type())
	if h.promTx != nil {
		h.promTx.WithLabelValues(typeLabel(m.Type())).Inc()
	}
	return nil
}

func (h *Handle) stampCredentials(m *msg.Message) {
	if uid, ok := uidFromEnv(); ok {
		if role, ok2 := rolemaskFromEnv(); ok2 {
			m.SetCredentials(msg.Credentials{UID: uid, Rolemask: role})
		}
	}
	if h.flags&RPCTrack != 0 && m.Type() == msg.Request {
		h.tracker.Insert(m)
	}
}

func (h *Handle) sendWithRetry(m *msg.Message, nonblock bool) error {
	return h.connSendWithRetry(func() error { return h.conn.Send(m, nonblock) })
}

func (h *Handle) connSendWithRetry(op func() error) error {
	err := op()
	if err == nil || h.commsErr == nil {
		return err
	}
	if h.commsErr(h, err) {
		return op()
	}
	return err
}

// Recv returns the next message matching match (spec.md §4.3 recv()).
// Messages that don't match are parked on the requeue deque in arrival
// order and re-offered to the next caller whose match they satisfy,
// before falling through to the connector (spec.md "messages not matching
// match are parked... and re-queued").
//
// Response-type matches additionally take a matchtag fast path: when the
// handle has RPCTRACK enabled, any incoming response carrying a matchtag
// other than msg.NoMatchtag is accepted regardless of match.Topic
// (spec.md §4.7's "exact matchtag match... wins the fast path"). The
// tracker is not consulted here, so the response is accepted whether or
// not its matchtag belongs to a tracked request.
func (h *Handle) Recv(match dispatch.Match, nonblock bool) (*msg.Message, error) {
	if h.requeue != nil {
		if m := h.scanRequeue(match); m != nil {
			return h.acceptRecv(m), nil
		}
	}

	for {
		m, err := h.connRecvWithRetry(nonblock)
		if err != nil {
			return nil, err
		}
		if h.matches(match, m) {
			return h.acceptRecv(m), nil
		}
		if h.requeue == nil {
			return nil, ErrNoRequeue
		}
		if err := h.requeue.PushBack(m); err != nil {
			return nil, err
		}
		if nonblock {
			return nil, ErrAgain
		}
	}
}

func (h *Handle) matches(match dispatch.Match, m *msg.Message) bool {
	if h.tracker != nil && match.Type == msg.Response && m.Type() == msg.Response {
		if tag, ok := m.Matchtag(); ok && tag != msg.NoMatchtag {
			return true
		}
	}
	return dispatch.Matches(match, m)
}

func (h *Handle) scanRequeue(match dispatch.Match) *msg.Message {
	var held []*msg.Message
	var found *msg.Message
	for {
		m := h.requeue.PopFront()
		if m == nil {
			break
		}
		if found == nil && h.matches(match, m) {
			found = m
			continue
		}
		held = append(held, m)
	}
	for _, m := range held {
		h.requeue.PushBack(m)
	}
	return found
}

func (h *Handle) connRecvWithRetry(nonblock bool) (*msg.Message, error) {
	var m *msg.Message
	err := h.connSendWithRetry(func() error {
		var e error
		m, e = h.conn.Recv(nonblock)
		return e
	})
	return m, err
}

func (h *Handle) acceptRecv(m *msg.Message) *msg.Message {
	h.trace("recv", m)
	h.Counters.countRx(m.Type())
	if h.promRx != nil {
		h.promRx.WithLabelValues(typeLabel(m.Type())).Inc()
	}
	if h.tracker != nil && m.Type() == msg.Response {
		// Non-streaming responses always close out the tracked request.
		// A streaming response only terminates it when the caller has
		// separately marked the final frame non-streaming (spec.md's
		// "errnum != 0" terminating condition maps, for a Go message
		// with no errno field, to "the last frame in the stream clears
		// the Streaming flag").
		terminal := m.Flags()&msg.Streaming == 0
		h.tracker.Remove(m, terminal)
	}
	return m
}

// Requeue re-inserts m for a later Recv call, at front or tail per where
// (spec.md §4.3 requeue()). Illegal when the handle was opened with
// NOREQUEUE.
func (h *Handle) Requeue(m *msg.Message, where Where) error {
	if h.requeue == nil {
		return ErrNoRequeue
	}
	if where == Front {
		return h.requeue.PushFront(m)
	}
	return h.requeue.PushBack(m)
}

// RecvFuture is SPEC_FULL.md §4.7's bridge between Recv and the future
// layer: it sends req (tracked via rpctrack so the matching response can
// be recognized) and binds fut to this handle itself via future.SetFlux
// (no cloned handle is created); a later Pump call fulfills fut from a
// response arriving on the wire rather than from in-process code calling
// Fulfill directly.
//
// RecvFuture does not drive the re-check itself: callers in then-mode
// should register fut with a watcher that calls Pump after each reactor
// iteration, and now-mode callers poll via repeated Pump calls
// interleaved with their own blocking Recv loop.
func (h *Handle) RecvFuture(req *msg.Message, fut *future.Future) error {
	if h.flags&RPCTrack == 0 {
		return errors.New("handle: RecvFuture requires RPCTRACK")
	}
	fut.SetFlux(h)
	return h.Send(req)
}

// Pump takes the next available response accepted by Recv's matchtag fast
// path and fulfills fut with it; it does not check that the response
// answers the request RecvFuture sent. It's the non-blocking half of
// RecvFuture's contract, for calling from a reactor watcher or idle loop;
// it never blocks, and returns nil without fulfilling fut when no response
// is available.
func (h *Handle) Pump(fut *future.Future) error {
	for {
		m, err := h.Recv(dispatch.Match{Type: msg.Response}, true)
		if err != nil {
			if errors.Is(err, ErrAgain) {
				return nil
			}
			return err
		}
		// Message carries no errno field of its own; a response payload
		// encoding failure is an application-layer concern, so Pump
		// always fulfills successfully and leaves failure interpretation
		// to the continuation registered via and_then/or_then.
		fut.Fulfill(m)
		return nil
	}
}

func typeLabel(t msg.Type) string {
	switch t {
	case msg.Request:
		return "request"
	case msg.Response:
		return "response"
	case msg.Event:
		return "event"
	case msg.Control:
		return "control"
	default:
		return "unknown"
	}
}
