//go:build windows

package msgdeque

import (
	"net"
	"sync"
	"syscall"
	"time"
)

// createWakeFD fakes a self-pipe on Windows via a loopback TCP socket pair:
// WSAPoll (reactor/poller_windows.go) only multiplexes sockets, not the
// anonymous pipes CreatePipe hands back, so a connected loopback pair is the
// standard substitute (the same trick libuv uses for its Windows wakeup
// fd). The raw socket handle is extracted via SyscallConn so it can be
// registered with the poller like any other fd.
func createWakeFD() (int, error) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return -1, err
	}
	defer ln.Close()

	acceptErr := make(chan error, 1)
	var serverConn net.Conn
	go func() {
		c, err := ln.Accept()
		serverConn = c
		acceptErr <- err
	}()

	clientConn, err := net.Dial("tcp4", ln.Addr().String())
	if err != nil {
		return -1, err
	}
	if err := <-acceptErr; err != nil {
		clientConn.Close()
		return -1, err
	}

	readFD, err := socketHandle(serverConn)
	if err != nil {
		clientConn.Close()
		serverConn.Close()
		return -1, err
	}
	writeFD, err := socketHandle(clientConn)
	if err != nil {
		clientConn.Close()
		serverConn.Close()
		return -1, err
	}

	wakeFDMu.Lock()
	wakeFDWritePeer[readFD] = writePeer{writeFD: writeFD, readConn: serverConn, writeConn: clientConn}
	wakeFDMu.Unlock()
	return readFD, nil
}

func socketHandle(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, syscall.EINVAL
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := raw.Control(func(h uintptr) { fd = int(h) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}

type writePeer struct {
	writeFD             int
	readConn, writeConn net.Conn
}

var (
	wakeFDMu        sync.Mutex
	wakeFDWritePeer = map[int]writePeer{}
)

func raiseWakeFD(fd int) {
	wakeFDMu.Lock()
	p, ok := wakeFDWritePeer[fd]
	wakeFDMu.Unlock()
	if ok {
		_, _ = p.writeConn.Write([]byte{1})
	}
}

func drainWakeFD(fd int) {
	wakeFDMu.Lock()
	p, ok := wakeFDWritePeer[fd]
	wakeFDMu.Unlock()
	if !ok {
		return
	}
	var buf [64]byte
	_ = p.readConn.SetReadDeadline(time.Now())
	for {
		if _, err := p.readConn.Read(buf[:]); err != nil {
			break
		}
	}
	_ = p.readConn.SetReadDeadline(time.Time{})
}

func closeWakeFD(fd int) error {
	wakeFDMu.Lock()
	p, ok := wakeFDWritePeer[fd]
	delete(wakeFDWritePeer, fd)
	wakeFDMu.Unlock()
	if !ok {
		return nil
	}
	_ = p.writeConn.Close()
	return p.readConn.Close()
}
