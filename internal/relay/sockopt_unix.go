//go:build linux || darwin || freebsd

package relay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func listenControl(reuseAddr bool) func(network, address string, c syscall.RawConn) error {
	if !reuseAddr {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return serr
	}
}
