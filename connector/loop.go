package connector

import (
	"errors"

	"github.com/resourcefab/msgfabric/msg"
	"github.com/resourcefab/msgfabric/msgdeque"
)

func init() {
	Register("loop", newLoopConnector)
}

// loopConnector is spec.md §4.4's "in-process back-to-back pair for
// testing": Send on one side lands in the other side's recv deque
// (NewLoopPair), or in its own recv deque for the self-loop every loop://
// open gets (NewSelfLoop). Grounded on msgdeque.Deque in Default (locking)
// mode; see NewLoopPair for why SingleThread is not used.
type loopConnector struct {
	recv *msgdeque.Deque
	send *msgdeque.Deque // the peer's recv deque
}

// newLoopConnector is the registry-installed factory for "loop"; it
// resolves to a self-loop (Send lands in its own Recv), the same as
// handle.Open's own special-casing of "loop://" below — the registry
// entry exists so "loop" appears in the builtin scheme table the way
// every other connector does, satisfying scheme discovery/listing, even
// though handle.Open never actually goes through Open/Register for it.
func newLoopConnector(_ string, _ uint32) (Connector, error) {
	return NewSelfLoop(), nil
}

// NewLoopPair creates two loopConnectors wired back-to-back: a.Send lands
// in b.Recv and vice versa. Each side's recv deque is written from the
// other side's goroutine, so it uses msgdeque.Default (a real mutex),
// not SingleThread — needed for PopFrontBlocking to coordinate a blocking
// Recv on one side with a Send arriving from the other.
func NewLoopPair() (Connector, Connector) {
	da := msgdeque.Create(msgdeque.Default)
	db := msgdeque.Create(msgdeque.Default)
	a := &loopConnector{recv: da, send: db}
	b := &loopConnector{recv: db, send: da}
	return a, b
}

// NewSelfLoop creates a single loopConnector whose Send lands in its own
// Recv: the single-handle "talk to yourself" form of loop:// (spec.md
// §4.4's loop scheme, used where only one handle is ever opened against
// it rather than a pair). handle.Open's "loop://" special case uses this,
// not NewLoopPair, since Open returns exactly one Handle per call. Also
// msgdeque.Default, for the same PopFrontBlocking reason as NewLoopPair,
// even though a self-loop's own Send/Recv never actually contend.
func NewSelfLoop() Connector {
	d := msgdeque.Create(msgdeque.Default)
	return &loopConnector{recv: d, send: d}
}

func (c *loopConnector) SetOpt(string, any) error   { return ErrNotSupport }
func (c *loopConnector) GetOpt(string) (any, error) { return nil, ErrNotSupport }
func (c *loopConnector) PollFD() int                { fd, _ := c.recv.PollFD(); return fd }
func (c *loopConnector) PollEvents() Events         { return Events(c.recv.PollEvents()) }
func (c *loopConnector) Reconnect() error           { return nil }
func (c *loopConnector) Destroy() error             { return c.recv.Destroy() }

func (c *loopConnector) Send(m *msg.Message, nonblock bool) error {
	if m == nil {
		return ErrInvalid
	}
	return c.send.PushBack(m)
}

func (c *loopConnector) SendNew(m *msg.Message, nonblock bool) error {
	return c.Send(m, nonblock)
}

func (c *loopConnector) Recv(nonblock bool) (*msg.Message, error) {
	if nonblock {
		m := c.recv.PopFront()
		if m == nil {
			return nil, errors.New("connector: loop: EAGAIN")
		}
		return m, nil
	}
	return c.recv.PopFrontBlocking()
}
