package relay

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// Resolver looks up the addresses for a host name.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver uses the Go resolver configured by the host.
type SystemResolver struct {
	Resolver *net.Resolver
}

func (r SystemResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// Resolve turns the remote target into a dialable address. Literal
// socket addresses are returned as is; anything else is looked up
// through r and the first result is used. Nothing is cached, so every
// call sees the current DNS answer.
func Resolve(ctx context.Context, r Resolver, remote string) (string, error) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.String(), nil
	}
	t, err := ParseTarget(remote)
	if err != nil {
		return "", err
	}
	if ip, err := netip.ParseAddr(t.Host); err == nil {
		return net.JoinHostPort(ip.String(), t.Port), nil
	}
	addrs, err := r.LookupHost(ctx, t.Host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", t.Host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve %s: %w", t.Host, ErrNoAddress)
	}
	return net.JoinHostPort(addrs[0].Unmap().String(), t.Port), nil
}
