//go:build !(linux || darwin || freebsd)

package relay

import "syscall"

func listenControl(bool) func(network, address string, c syscall.RawConn) error { return nil }
