//go:build linux

package msgdeque

import "golang.org/x/sys/unix"

// createWakeFD creates an eventfd for the deque's readiness notification.
// Grounded on eventloop/wakeup_linux.go's createWakeFd.
func createWakeFD() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

func raiseWakeFD(fd int) {
	var one [8]byte
	one[7] = 1
	_, _ = unix.Write(fd, one[:])
}

func drainWakeFD(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			break
		}
	}
}

func closeWakeFD(fd int) error {
	return unix.Close(fd)
}
