package dialer

import (
	"context"
	"net"
	"net/netip"

	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing/common/control"
	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"

	"github.com/metacubex/tfo-go"
)

var _ N.Dialer = (*DefaultDialer)(nil)

// DefaultDialer dials relay endpoints directly, with optional interface
// and address binding and TCP fast open.
type DefaultDialer struct {
	dialer4    tfo.Dialer
	dialer6    tfo.Dialer
	udpDialer4 net.Dialer
	udpDialer6 net.Dialer
	listener   net.ListenConfig
}

func NewDefault(options option.ReachabilityOptions) (*DefaultDialer, error) {
	var (
		dialer   net.Dialer
		listener net.ListenConfig
	)
	if options.BindInterface != "" {
		bindFunc := control.BindToInterface(control.NewDefaultInterfaceFinder(), options.BindInterface, -1)
		dialer.Control = control.Append(dialer.Control, bindFunc)
		listener.Control = control.Append(listener.Control, bindFunc)
	}
	setKeepAliveConfig(&dialer)

	udpDialer := dialer

	dialer4 := dialer
	udpDialer4 := udpDialer
	if options.Inet4BindAddress != nil {
		bindAddr := options.Inet4BindAddress.Build(netip.IPv4Unspecified())
		dialer4.LocalAddr = &net.TCPAddr{IP: bindAddr.AsSlice()}
		udpDialer4.LocalAddr = &net.UDPAddr{IP: bindAddr.AsSlice()}
	}

	dialer6 := dialer
	udpDialer6 := udpDialer
	if options.Inet6BindAddress != nil {
		bindAddr := options.Inet6BindAddress.Build(netip.IPv6Unspecified())
		dialer6.LocalAddr = &net.TCPAddr{IP: bindAddr.AsSlice()}
		udpDialer6.LocalAddr = &net.UDPAddr{IP: bindAddr.AsSlice()}
	}

	disableTFO := !options.TCPFastOpen
	return &DefaultDialer{
		dialer4:    tfo.Dialer{Dialer: dialer4, DisableTFO: disableTFO},
		dialer6:    tfo.Dialer{Dialer: dialer6, DisableTFO: disableTFO},
		udpDialer4: udpDialer4,
		udpDialer6: udpDialer6,
		listener:   listener,
	}, nil
}

func (d *DefaultDialer) DialContext(ctx context.Context, network string, destination M.Socksaddr) (net.Conn, error) {
	if !destination.IsIP() {
		return nil, E.New("expected IP destination, got ", destination)
	}
	switch N.NetworkName(network) {
	case N.NetworkTCP:
		if destination.IsIPv6() {
			return d.dialer6.DialContext(ctx, N.NetworkTCP, destination.String(), nil)
		}
		return d.dialer4.DialContext(ctx, N.NetworkTCP, destination.String(), nil)
	case N.NetworkUDP:
		if destination.IsIPv6() {
			return d.udpDialer6.DialContext(ctx, N.NetworkUDP, destination.String())
		}
		return d.udpDialer4.DialContext(ctx, N.NetworkUDP, destination.String())
	default:
		return nil, E.Extend(N.ErrUnknownNetwork, network)
	}
}

func (d *DefaultDialer) ListenPacket(ctx context.Context, destination M.Socksaddr) (net.PacketConn, error) {
	if destination.IsIPv6() {
		return d.listener.ListenPacket(ctx, N.NetworkUDP, "[::]:0")
	}
	return d.listener.ListenPacket(ctx, N.NetworkUDP, "0.0.0.0:0")
}
