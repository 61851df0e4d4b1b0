//go:build linux

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is grounded on eventloop/poller_linux.go's FastPoller, with
// the fixed maxFDs array replaced by a map (see poller.go's doc comment for
// why) and the preallocated event buffer kept, since epoll_wait still wants
// a slice to fill regardless of how registrations are tracked.
type epollPoller struct {
	mu       sync.RWMutex
	epfd     int
	fds      map[int]fdReg
	eventBuf [64]unix.EpollEvent
	closed   bool
}

type fdReg struct {
	events IOEvents
	cb     func(IOEvents)
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd, fds: make(map[int]fdReg)}, nil
}

func eventsToEpoll(e IOEvents) uint32 {
	var out uint32
	if e&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEvents(e uint32) IOEvents {
	var out IOEvents
	if e&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		out |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		out |= EventHangup
	}
	return out
}

func (p *epollPoller) registerFD(fd int, events IOEvents, cb func(IOEvents)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return unix.EBADF
	}
	if _, ok := p.fds[fd]; ok {
		return unix.EEXIST
	}
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.fds[fd] = fdReg{events: events, cb: cb}
	return nil
}

func (p *epollPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return unix.ENOENT
	}
	delete(p.fds, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.fds[fd]
	if !ok {
		return unix.ENOENT
	}
	reg.events = events
	p.fds[fd] = reg
	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) poll(timeout time.Duration) int {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return 0
	}

	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return 0
		}
		return 0
	}

	fired := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		p.mu.RLock()
		reg, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok || reg.cb == nil {
			continue
		}
		reg.cb(epollToEvents(p.eventBuf[i].Events))
		fired++
	}
	return fired
}

func (p *epollPoller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}
