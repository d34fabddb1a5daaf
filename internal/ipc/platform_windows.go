//go:build windows

package ipc

import (
	"fmt"
	"net"
)

// Windows has no dependable Unix sockets, so the default feed address is
// TCP on loopback and the socket path is ignored.

func listenDefault(string) (net.Listener, error) {
	l, err := net.Listen("tcp", DefaultTCPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", DefaultTCPAddr, err)
	}
	return l, nil
}

func dialDefault(string) (net.Conn, error) {
	return net.DialTimeout("tcp", DefaultTCPAddr, DialTimeout)
}

func defaultAddress(string) string {
	return DefaultTCPAddr + " (tcp, socket path ignored on windows)"
}
