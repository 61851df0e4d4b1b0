package connector

import (
	"errors"
	"strings"
	"sync"

	"github.com/resourcefab/msgfabric/msg"
	"github.com/resourcefab/msgfabric/msgdeque"
)

func init() {
	Register("interthread", newInterthreadConnector)
}

// interthreadEndpoint is a rendezvous point identified by a uuid-derived
// name (spec.md §4.4 "thread-safe rendezvous between two handles in the
// same process, identified by a uuid-derived endpoint"): two connectors
// attach to the same endpoint, each getting the other's deque as its send
// target, the same pairing loop.go uses but registered globally by name
// instead of returned as a literal pair, and backed by a thread-safe
// (non-SingleThread) msgdeque.Deque since interthread is the one connector
// spec.md §5 permits to cross goroutines.
type interthreadEndpoint struct {
	mu   sync.Mutex
	a, b *msgdeque.Deque
	refs int
}

var (
	endpointsMu sync.Mutex
	endpoints   = map[string]*interthreadEndpoint{}
)

func endpointFor(name string) *interthreadEndpoint {
	endpointsMu.Lock()
	defer endpointsMu.Unlock()
	e, ok := endpoints[name]
	if !ok {
		e = &interthreadEndpoint{a: msgdeque.Create(msgdeque.Default), b: msgdeque.Create(msgdeque.Default)}
		endpoints[name] = e
	}
	e.mu.Lock()
	e.refs++
	e.mu.Unlock()
	return e
}

func releaseEndpoint(name string, e *interthreadEndpoint) {
	e.mu.Lock()
	e.refs--
	done := e.refs <= 0
	e.mu.Unlock()
	if !done {
		return
	}
	endpointsMu.Lock()
	delete(endpoints, name)
	endpointsMu.Unlock()
	e.a.Destroy()
	e.b.Destroy()
}

// interthreadConnector is one side of an interthreadEndpoint. The "side"
// (A or B) determines which deque is this connector's recv queue and which
// is its send target; the first opener of a name becomes side A, the
// second side B, matching the original's client/server endpoint-naming
// convention ("<uuid>" for the server, the reverse mapping implied for
// whichever peer dials in second).
type interthreadConnector struct {
	name string
	ep   *interthreadEndpoint
	recv *msgdeque.Deque
	send *msgdeque.Deque
}

func newInterthreadConnector(path string, _ uint32) (Connector, error) {
	name := strings.TrimPrefix(path, "/")
	if name == "" {
		return nil, ErrInvalid
	}
	ep := endpointFor(name)

	ep.mu.Lock()
	side := ep.refs // 1 on first open, 2 on second
	ep.mu.Unlock()

	c := &interthreadConnector{name: name, ep: ep}
	if side <= 1 {
		c.recv, c.send = ep.a, ep.b
	} else {
		c.recv, c.send = ep.b, ep.a
	}
	return c, nil
}

func (c *interthreadConnector) SetOpt(string, any) error   { return ErrNotSupport }
func (c *interthreadConnector) GetOpt(string) (any, error) { return nil, ErrNotSupport }
func (c *interthreadConnector) PollFD() int                { fd, _ := c.recv.PollFD(); return fd }
func (c *interthreadConnector) PollEvents() Events          { return Events(c.recv.PollEvents()) }
func (c *interthreadConnector) Reconnect() error            { return nil }

func (c *interthreadConnector) Destroy() error {
	releaseEndpoint(c.name, c.ep)
	return nil
}

// Send requires m have refcount 1 before crossing to the peer goroutine
// (spec.md §5 "A message handed off across threads must have refcount 1");
// msgdeque.PushBack already enforces this in non-SingleThread mode.
func (c *interthreadConnector) Send(m *msg.Message, nonblock bool) error {
	if m == nil {
		return ErrInvalid
	}
	return c.send.PushBack(m)
}

func (c *interthreadConnector) SendNew(m *msg.Message, nonblock bool) error {
	return c.Send(m, nonblock)
}

func (c *interthreadConnector) Recv(nonblock bool) (*msg.Message, error) {
	if nonblock {
		m := c.recv.PopFront()
		if m == nil {
			return nil, errors.New("connector: interthread: EAGAIN")
		}
		return m, nil
	}
	return c.recv.PopFrontBlocking()
}
