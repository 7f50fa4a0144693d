//go:build !windows

package netudp

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// socketCount returns the number of listening sockets to bind to the same
// address, one per CPU, relying on kernel-level flow hashing across
// SO_REUSEPORT sockets to distribute datagrams.
func socketCount() int {
	return runtime.NumCPU()
}

func setReuseAddrPort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
