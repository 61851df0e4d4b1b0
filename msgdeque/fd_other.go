//go:build !linux && !windows

package msgdeque

import (
	"sync"

	"golang.org/x/sys/unix"
)

// createWakeFD falls back to a self-pipe on non-Linux platforms, mirroring
// eventloop/wakeup_darwin.go's pipe-based wake mechanism (kqueue has no
// eventfd equivalent).
func createWakeFD() (int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, err
	}
	_ = unix.SetNonblock(fds[0], true)
	_ = unix.SetNonblock(fds[1], true)
	wakeFDMu.Lock()
	wakeFDWritePeer[fds[0]] = fds[1]
	wakeFDMu.Unlock()
	return fds[0], nil
}

// wakeFDWritePeer maps a self-pipe's read end to its write end, since
// Deque only stores one fd (the one given to the reactor's fd watcher).
var (
	wakeFDMu        sync.Mutex
	wakeFDWritePeer = map[int]int{}
)

func raiseWakeFD(fd int) {
	wakeFDMu.Lock()
	w, ok := wakeFDWritePeer[fd]
	wakeFDMu.Unlock()
	if ok {
		_, _ = unix.Write(w, []byte{1})
	}
}

func drainWakeFD(fd int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			break
		}
	}
}

func closeWakeFD(fd int) error {
	wakeFDMu.Lock()
	w, ok := wakeFDWritePeer[fd]
	delete(wakeFDWritePeer, fd)
	wakeFDMu.Unlock()
	if ok {
		_ = unix.Close(w)
	}
	return unix.Close(fd)
}
