//go:build windows

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/windows"
)

// wsaPollPoller is grounded on eventloop/poller_windows.go's intent (native
// multiplexing rather than a busy-poll fallback) but uses windows.WSAPoll
// instead of IOCP: WSAPoll mirrors POSIX poll(2) closely enough that the
// same "rebuild the fd list, block, walk results" shape as the Linux/Darwin
// pollers applies directly, and this module only ever multiplexes a handful
// of socket handles (connector handles and wake pipes), not enough fds for
// IOCP's completion-port model to earn its complexity.
type wsaPollPoller struct {
	mu     sync.RWMutex
	fds    map[int]fdReg
	closed bool
}

func newPoller() (poller, error) {
	return &wsaPollPoller{fds: make(map[int]fdReg)}, nil
}

func (p *wsaPollPoller) registerFD(fd int, events IOEvents, cb func(IOEvents)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return windows.WSAEBADF
	}
	if _, ok := p.fds[fd]; ok {
		return windows.WSAEALREADY
	}
	p.fds[fd] = fdReg{events: events, cb: cb}
	return nil
}

func (p *wsaPollPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return windows.WSAEINVAL
	}
	delete(p.fds, fd)
	return nil
}

func (p *wsaPollPoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.fds[fd]
	if !ok {
		return windows.WSAEINVAL
	}
	reg.events = events
	p.fds[fd] = reg
	return nil
}

func pollEventsToWSA(e IOEvents) int16 {
	var out int16
	if e&EventRead != 0 {
		out |= windows.POLLRDNORM
	}
	if e&EventWrite != 0 {
		out |= windows.POLLWRNORM
	}
	return out
}

func wsaToPollEvents(e int16) IOEvents {
	var out IOEvents
	if e&windows.POLLRDNORM != 0 {
		out |= EventRead
	}
	if e&windows.POLLWRNORM != 0 {
		out |= EventWrite
	}
	if e&windows.POLLHUP != 0 {
		out |= EventHangup
	}
	if e&windows.POLLERR != 0 {
		out |= EventError
	}
	return out
}

func (p *wsaPollPoller) poll(timeout time.Duration) int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	fds := make([]windows.WSAPollFd, 0, len(p.fds))
	order := make([]int, 0, len(p.fds))
	for fd, reg := range p.fds {
		fds = append(fds, windows.WSAPollFd{Fd: windows.Handle(fd), Events: pollEventsToWSA(reg.events)})
		order = append(order, fd)
	}
	p.mu.Unlock()

	if len(fds) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0
	}

	ms := int32(-1)
	if timeout >= 0 {
		ms = int32(timeout.Milliseconds())
	}

	n, err := windows.WSAPoll(fds, ms)
	if err != nil || n <= 0 {
		return 0
	}

	fired := 0
	for i, pfd := range fds {
		if pfd.REvents == 0 {
			continue
		}
		fd := order[i]
		p.mu.RLock()
		reg, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok || reg.cb == nil {
			continue
		}
		reg.cb(wsaToPollEvents(pfd.REvents))
		fired++
	}
	return fired
}

func (p *wsaPollPoller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
