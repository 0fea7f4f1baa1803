package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver queries nameservers directly, the way a resolv.conf
// driven stub resolver would. A records are tried before AAAA.
type DNSResolver struct {
	Servers []string // host:port
	Client  *dns.Client
}

// NewDNSResolver reads nameservers and timeout from a resolv.conf file.
func NewDNSResolver(resolvConf string) (*DNSResolver, error) {
	cc, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resolvConf, err)
	}
	if len(cc.Servers) == 0 {
		return nil, fmt.Errorf("read %s: no nameservers", resolvConf)
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	timeout := time.Duration(cc.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNSResolver{Servers: servers, Client: &dns.Client{Timeout: timeout}}, nil
}

func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}
	fqdn := dns.Fqdn(host)
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := r.query(ctx, fqdn, qtype)
		if err != nil {
			lastErr = err
			var rc *rcodeError
			if errors.As(err, &rc) && rc.code == dns.RcodeNameError {
				break
			}
			continue
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoAddress
}

type rcodeError struct {
	name string
	code int
}

func (e *rcodeError) Error() string {
	return fmt.Sprintf("lookup %s: %s", e.name, dns.RcodeToString[e.code])
}

func (r *DNSResolver) query(ctx context.Context, fqdn string, qtype uint16) ([]netip.Addr, error) {
	client := r.Client
	if client == nil {
		client = &dns.Client{Timeout: 5 * time.Second}
	}
	m := new(dns.Msg)
	m.SetQuestion(fqdn, qtype)
	m.RecursionDesired = true

	lastErr := error(ErrNoAddress)
	for _, server := range r.Servers {
		in, _, err := client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if in.Rcode == dns.RcodeNameError {
			return nil, &rcodeError{name: fqdn, code: in.Rcode}
		}
		if in.Rcode != dns.RcodeSuccess {
			// SERVFAIL and friends are per server; try the next one
			lastErr = &rcodeError{name: fqdn, code: in.Rcode}
			continue
		}
		var out []netip.Addr
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(v.A); ok {
					out = append(out, a.Unmap())
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(v.AAAA); ok {
					out = append(out, a)
				}
			}
		}
		return out, nil
	}
	return nil, lastErr
}
