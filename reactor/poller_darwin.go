//go:build darwin

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is grounded on eventloop/poller_darwin.go's FastPoller,
// registering both read and write filters as separate kevent changes (as
// kqueue itself requires) and folding EVFILT_READ/EVFILT_WRITE reports back
// into the same IOEvents bitset the Linux implementation uses, so Reactor
// need not know which platform it's on.
type kqueuePoller struct {
	mu       sync.RWMutex
	kq       int
	fds      map[int]fdReg
	eventBuf [64]unix.Kevent_t
	closed   bool
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, fds: make(map[int]fdReg)}, nil
}

func (p *kqueuePoller) changes(fd int, events IOEvents, delete bool) []unix.Kevent_t {
	var flags uint16 = unix.EV_ADD | unix.EV_ENABLE
	if delete {
		flags = unix.EV_DELETE
	}
	var out []unix.Kevent_t
	if events&EventRead != 0 || delete {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 || delete {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func (p *kqueuePoller) registerFD(fd int, events IOEvents, cb func(IOEvents)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return unix.EBADF
	}
	if _, ok := p.fds[fd]; ok {
		return unix.EEXIST
	}
	changes := p.changes(fd, events, false)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			return err
		}
	}
	p.fds[fd] = fdReg{events: events, cb: cb}
	return nil
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.fds[fd]
	if !ok {
		return unix.ENOENT
	}
	delete(p.fds, fd)
	changes := p.changes(fd, reg.events, true)
	if len(changes) > 0 {
		_, _ = unix.Kevent(p.kq, changes, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) modifyFD(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.fds[fd]
	if !ok {
		return unix.ENOENT
	}
	del := p.changes(fd, reg.events, true)
	if len(del) > 0 {
		_, _ = unix.Kevent(p.kq, del, nil, nil)
	}
	add := p.changes(fd, events, false)
	if len(add) > 0 {
		if _, err := unix.Kevent(p.kq, add, nil, nil); err != nil {
			return err
		}
	}
	reg.events = events
	p.fds[fd] = reg
	return nil
}

func (p *kqueuePoller) poll(timeout time.Duration) int {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return 0
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0
		}
		return 0
	}

	fired := 0
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		p.mu.RLock()
		reg, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok || reg.cb == nil {
			continue
		}
		var events IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			events = EventRead
		case unix.EVFILT_WRITE:
			events = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			events |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			events |= EventError
		}
		reg.cb(events)
		fired++
	}
	return fired
}

func (p *kqueuePoller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.kq)
}
