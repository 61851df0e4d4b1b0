package connector

import (
	"net"
	"syscall"
)

// socketFD extracts the raw fd/handle backing conn, the same
// SyscallConn().Control() trick msgdeque/fd_windows.go uses to recover a
// pollable descriptor from a net.Conn. Returns -1 if conn is nil or
// doesn't expose one.
func socketFD(conn net.Conn) int {
	if conn == nil {
		return -1
	}
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	var fd int
	_ = raw.Control(func(ptr uintptr) { fd = int(ptr) })
	return fd
}
