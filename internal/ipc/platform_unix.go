//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// listenDefault binds a Unix domain socket, replacing a stale one left by
// a crashed server. The socket is group-writable so a viewer running as
// another user in the same group can attach.
func listenDefault(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("socket dir: %w", err)
	}
	if err := CleanupSocket(socketPath); err != nil {
		return nil, fmt.Errorf("cleanup socket: %w", err)
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix: %w", err)
	}
	if err := os.Chmod(socketPath, 0o660); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return l, nil
}

func dialDefault(socketPath string) (net.Conn, error) {
	return net.DialTimeout("unix", socketPath, DialTimeout)
}

func defaultAddress(socketPath string) string {
	return socketPath
}
