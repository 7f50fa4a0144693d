//go:build windows

package netudp

// Windows has no SO_REUSEPORT equivalent that permits several sockets to
// share one (addr, port) with kernel flow hashing, so a single socket
// handles all traffic.
func socketCount() int {
	return 1
}

func setReuseAddrPort(_ uintptr) error {
	return nil
}
