// Package relaylist models relay list documents and the immutable location
// hierarchy built from them.
package relaylist

import (
	"net/netip"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"

	"github.com/cespare/xxhash/v2"
)

// List is the wire form of a relay list document. Unknown fields are
// tolerated so servers can extend the format.
type List struct {
	Countries  []ListCountry `json:"countries"`
	Wireguard  EndpointData  `json:"wireguard"`
	MinVersion string        `json:"min_version,omitempty"`
}

type ListCountry struct {
	Name   string     `json:"name"`
	Code   string     `json:"code"`
	Cities []ListCity `json:"cities"`
}

type ListCity struct {
	Name      string      `json:"name"`
	Code      string      `json:"code"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Relays    []ListRelay `json:"relays"`
}

type ListRelay struct {
	Hostname         string            `json:"hostname"`
	IPv4AddrIn       netip.Addr        `json:"ipv4_addr_in"`
	IPv6AddrIn       netip.Addr        `json:"ipv6_addr_in,omitempty"`
	IncludeInCountry bool              `json:"include_in_country"`
	Active           bool              `json:"active"`
	Owned            bool              `json:"owned"`
	Provider         string            `json:"provider"`
	Weight           uint64            `json:"weight"`
	EndpointData     RelayEndpointData `json:"endpoint_data"`
}

type RelayEndpointData struct {
	Wireguard WireguardRelayData `json:"wireguard"`
}

type WireguardRelayData struct {
	PublicKey PublicKey `json:"public_key"`
}

// EndpointData carries list-wide WireGuard parameters shared by all relays.
type EndpointData struct {
	PortRanges   []PortRange `json:"port_ranges"`
	IPv4Gateway  netip.Addr  `json:"ipv4_gateway"`
	IPv6Gateway  netip.Addr  `json:"ipv6_gateway"`
	UDP2TCPPorts []uint16    `json:"udp2tcp_ports,omitempty"`
}

// PortRange is an inclusive port span, encoded as a two element array.
type PortRange struct {
	First uint16
	Last  uint16
}

func (r PortRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint16{r.First, r.Last})
}

func (r *PortRange) UnmarshalJSON(content []byte) error {
	var pair [2]uint16
	err := json.Unmarshal(content, &pair)
	if err != nil {
		return err
	}
	r.First = pair[0]
	r.Last = pair[1]
	return nil
}

func (r PortRange) Size() uint32 {
	if r.Last < r.First {
		return 0
	}
	return uint32(r.Last-r.First) + 1
}

// Parse decodes a relay list document.
func Parse(content []byte) (*List, error) {
	var list List
	err := json.Unmarshal(content, &list)
	if err != nil {
		return nil, E.Cause(err, "decode relay list")
	}
	return &list, nil
}

// Digest fingerprints raw list content for change detection.
func Digest(content []byte) uint64 {
	return xxhash.Sum64(content)
}
