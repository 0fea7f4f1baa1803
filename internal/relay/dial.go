package relay

import (
	"context"
	"net"
	"time"
)

// Connector opens the upstream side of a session.
type Connector interface {
	Connect(ctx context.Context, addr string) (net.Conn, error)
}

// TCPConnector dials a fresh TCP connection per call.
type TCPConnector struct {
	Timeout   time.Duration // 0 leaves it to the OS
	KeepAlive time.Duration
}

func (c TCPConnector) Connect(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.Timeout, KeepAlive: c.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}
