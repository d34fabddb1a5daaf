package ipc

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// tcpPrefix selects TCP instead of the platform default for a feed address
const tcpPrefix = "tcp://"

// DialTimeout bounds a single connection attempt
const DialTimeout = time.Second

// splitAddr resolves a feed address into a network and address.
// "tcp://host:port" is TCP on every platform; anything else is handed
// to the platform default.
func splitAddr(addr string) (network, address string, explicit bool) {
	if rest, ok := strings.CutPrefix(addr, tcpPrefix); ok {
		return "tcp", rest, true
	}
	return "", addr, false
}

// CreatePlatformListener opens the feed listener for addr
func CreatePlatformListener(addr string) (net.Listener, error) {
	if network, address, ok := splitAddr(addr); ok {
		l, err := net.Listen(network, address)
		if err != nil {
			return nil, fmt.Errorf("listen %s %s: %w", network, address, err)
		}
		return l, nil
	}
	return listenDefault(addr)
}

// ConnectPlatform dials the feed at addr
func ConnectPlatform(addr string) (net.Conn, error) {
	if network, address, ok := splitAddr(addr); ok {
		return net.DialTimeout(network, address, DialTimeout)
	}
	return dialDefault(addr)
}

// GetPlatformAddress returns the address string for logging
func GetPlatformAddress(addr string) string {
	if _, address, ok := splitAddr(addr); ok {
		return address + " (tcp)"
	}
	return defaultAddress(addr)
}

// CleanupSocket removes a stale Unix socket at path.
// Anything that is not a socket is left alone and reported.
func CleanupSocket(path string) error {
	if _, _, ok := splitAddr(path); ok || path == "" {
		return nil
	}
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}
