package connector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/resourcefab/msgfabric/internal/wire"
	"github.com/resourcefab/msgfabric/msg"
)

func init() {
	Register("local", newLocalConnector)
}

// localConnector is spec.md §4.4's "platform-specific user-domain
// transport (unix-domain socket with length-prefixed frames) to the broker
// endpoint named by path." Framing uses internal/wire's protobuf envelope,
// a 4-byte big-endian length prefix ahead of each frame (the same
// length-prefix-then-payload shape the grpc connector's bidi stream
// reduces to when inprocgrpc's in-process delivery is replaced by a real
// socket — see SPEC_FULL.md §4.6: "local and grpc share one encode/decode
// path").
type localConnector struct {
	path string

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader

	sendMu sync.Mutex
}

const maxFrameLen = 64 << 20

func newLocalConnector(path string, _ uint32) (Connector, error) {
	c := &localConnector{path: path}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *localConnector) dial() error {
	conn, err := net.Dial("unix", c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.r = bufio.NewReader(conn)
	c.mu.Unlock()
	return nil
}

func (c *localConnector) SetOpt(string, any) error   { return ErrNotSupport }
func (c *localConnector) GetOpt(string) (any, error) { return nil, ErrNotSupport }

// PollFD exposes the underlying socket's fd, read via the same
// syscall.Conn.Control trick msgdeque/fd_windows.go uses for its loopback
// socket pair; unlike that file, this one only needs the read side.
func (c *localConnector) PollFD() int {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return socketFD(conn)
}

// PollEvents reports Err alone when the connection has failed, and
// otherwise Out|In: Out because a connected stream socket is writable
// until the kernel send buffer fills (which this connector doesn't
// track), and In without checking whether data is actually available,
// since that cannot be determined without consuming it (or MSG_PEEK);
// real read readiness comes from the fd the poller watches.
func (c *localConnector) PollEvents() Events {
	c.mu.Lock()
	broken := c.conn == nil
	c.mu.Unlock()
	if broken {
		return Err
	}
	return Out | In
}

func (c *localConnector) Reconnect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	return c.dial()
}

func (c *localConnector) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *localConnector) Send(m *msg.Message, nonblock bool) error {
	if m == nil {
		return ErrInvalid
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("connector: local: ECONNRESET")
	}

	frame := wire.Encode(m)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := conn.Write(frame)
	return err
}

func (c *localConnector) SendNew(m *msg.Message, nonblock bool) error {
	return c.Send(m, nonblock)
}

// Recv reads one length-prefixed frame. nonblock sets a near-zero read
// deadline on the underlying net.Conn before reading — the same technique
// connector/ws.go uses, since bufio.Reader gives no poll-style readiness
// check of its own and a deadline is the standard way to make a blocking
// net.Conn-backed read behave non-blockingly.
func (c *localConnector) Recv(nonblock bool) (*msg.Message, error) {
	c.mu.Lock()
	conn, r := c.conn, c.r
	c.mu.Unlock()
	if r == nil {
		return nil, errors.New("connector: local: ECONNRESET")
	}

	if nonblock {
		_ = conn.SetReadDeadline(time.Now())
		defer conn.SetReadDeadline(time.Time{})
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, errors.New("connector: local: EAGAIN")
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, wire.ErrMalformed
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, errors.New("connector: local: EAGAIN")
		}
		return nil, err
	}
	return wire.Decode(frame)
}
