package relay

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrInvalidBind   = errors.New("invalid bind address")
	ErrInvalidTarget = errors.New("invalid remote target")
	ErrNoAddress     = errors.New("no addresses found")
)

// BindEndpoint is the local address the Accept Loop listens on.
// Host may be an IPv4 literal, a bare IPv6 literal or a hostname.
type BindEndpoint struct {
	Host string
	Port int
}

// Address formats the endpoint for net.Listen, bracketing bare IPv6 hosts.
func (b BindEndpoint) Address() string {
	port := strconv.Itoa(b.Port)
	if !strings.HasPrefix(b.Host, "[") && strings.Contains(b.Host, ":") {
		return "[" + b.Host + "]:" + port
	}
	return b.Host + ":" + port
}

func (b BindEndpoint) String() string { return b.Address() }

// Validate checks the port range and that the formatted address splits cleanly.
func (b BindEndpoint) Validate() error {
	if b.Port < 0 || b.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidBind, b.Port)
	}
	if _, _, err := net.SplitHostPort(b.Address()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBind, err)
	}
	return nil
}

// Target is the configured upstream, kept unresolved. Host may be a
// literal address or a DNS name; Port may be numeric or a service name.
type Target struct {
	Host string
	Port string
}

// ParseTarget splits a "host:port" remote string.
func ParseTarget(remote string) (Target, error) {
	host, port, err := net.SplitHostPort(remote)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, remote, err)
	}
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, remote)
	}
	if port == "" {
		return Target{}, fmt.Errorf("%w: %q: missing port", ErrInvalidTarget, remote)
	}
	if n, err := strconv.Atoi(port); err == nil && (n < 1 || n > 65535) {
		return Target{}, fmt.Errorf("%w: %q: port out of range", ErrInvalidTarget, remote)
	}
	return Target{Host: host, Port: port}, nil
}

// JoinTarget builds a remote string from the older split host/port call shape.
func JoinTarget(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (t Target) String() string { return net.JoinHostPort(t.Host, t.Port) }
