package updater

import (
	"context"
	"net"
	"net/netip"

	C "github.com/sagernet/sing-relay/constant"
	E "github.com/sagernet/sing/common/exceptions"

	"github.com/miekg/dns"
)

// bootstrapResolver resolves the list server through a fixed DNS server,
// sidestepping the system resolver so a broken one cannot block updates.
type bootstrapResolver struct {
	server string
	client *dns.Client
	dialer net.Dialer
}

func newBootstrapResolver(server string) (*bootstrapResolver, error) {
	host, _, err := net.SplitHostPort(server)
	if err != nil {
		host = server
		server = net.JoinHostPort(server, "53")
	}
	if _, err = netip.ParseAddr(host); err != nil {
		return nil, E.New("bootstrap DNS server must be an IP address: ", host)
	}
	return &bootstrapResolver{
		server: server,
		client: &dns.Client{Timeout: C.DefaultDNSTimeout},
	}, nil
}

func (r *bootstrapResolver) DialContext(ctx context.Context, network string, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if _, parseErr := netip.ParseAddr(host); parseErr == nil {
		return r.dialer.DialContext(ctx, network, address)
	}
	addresses, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, addr := range addresses {
		conn, dialErr := r.dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
	}
	return nil, lastErr
}

func (r *bootstrapResolver) lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	var (
		addresses []netip.Addr
		lastErr   error
	)
	for _, queryType := range []uint16{dns.TypeA, dns.TypeAAAA} {
		message := new(dns.Msg)
		message.SetQuestion(dns.Fqdn(host), queryType)
		response, _, err := r.client.ExchangeContext(ctx, message, r.server)
		if err != nil {
			lastErr = err
			continue
		}
		if response.Rcode != dns.RcodeSuccess {
			lastErr = E.New("query ", host, ": ", dns.RcodeToString[response.Rcode])
			continue
		}
		for _, record := range response.Answer {
			switch answer := record.(type) {
			case *dns.A:
				if addr, ok := netip.AddrFromSlice(answer.A); ok {
					addresses = append(addresses, addr.Unmap())
				}
			case *dns.AAAA:
				if addr, ok := netip.AddrFromSlice(answer.AAAA); ok {
					addresses = append(addresses, addr)
				}
			}
		}
	}
	if len(addresses) == 0 {
		if lastErr != nil {
			return nil, E.Cause(lastErr, "resolve ", host)
		}
		return nil, E.New("no addresses for ", host)
	}
	return addresses, nil
}
