package option

import (
	"net/netip"

	"github.com/sagernet/sing/common/json/badoption"
)

type ReachabilityOptions struct {
	Enabled          bool               `json:"enabled,omitempty"`
	Interval         badoption.Duration `json:"interval,omitempty"`
	Timeout          badoption.Duration `json:"timeout,omitempty"`
	Concurrency      int                `json:"concurrency,omitempty"`
	MaxFailures      uint32             `json:"max_failures,omitempty"`
	TCPFastOpen      bool               `json:"tcp_fast_open,omitempty"`
	BindInterface    string             `json:"bind_interface,omitempty"`
	Inet4BindAddress *badoption.Addr    `json:"inet4_bind_address,omitempty"`
	Inet6BindAddress *badoption.Addr    `json:"inet6_bind_address,omitempty"`
	NAT64Prefix      *netip.Prefix      `json:"nat64_prefix,omitempty"`
}
