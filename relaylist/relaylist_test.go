package relaylist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	content := []byte(`{
		"countries": [
			{
				"name": "Sweden",
				"code": "se",
				"cities": [
					{
						"name": "Stockholm",
						"code": "sto",
						"latitude": 59.3289,
						"longitude": 18.0649,
						"relays": [
							{
								"hostname": "se1-wg-001",
								"ipv4_addr_in": "185.213.154.68",
								"ipv6_addr_in": "2a03:1b20:1:f011::a01f",
								"include_in_country": true,
								"active": true,
								"owned": true,
								"provider": "31173",
								"weight": 100,
								"endpoint_data": {
									"wireguard": {
										"public_key": "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
									}
								}
							}
						]
					}
				]
			}
		],
		"wireguard": {
			"port_ranges": [[53, 53], [4000, 33433]],
			"ipv4_gateway": "10.64.0.1",
			"ipv6_gateway": "fc00:bbbb:bbbb:bb01::1",
			"udp2tcp_ports": [80, 443, 5001]
		},
		"min_version": "1.2.0",
		"future_field": {"ignored": true}
	}`)

	list, err := Parse(content)
	require.NoError(t, err)
	require.Len(t, list.Countries, 1)
	require.Equal(t, "1.2.0", list.MinVersion)

	relay := list.Countries[0].Cities[0].Relays[0]
	require.Equal(t, "se1-wg-001", relay.Hostname)
	require.Equal(t, "185.213.154.68", relay.IPv4AddrIn.String())
	require.True(t, relay.IPv6AddrIn.Is6())
	require.True(t, relay.Owned)
	require.Equal(t, uint64(100), relay.Weight)
	require.True(t, relay.EndpointData.Wireguard.PublicKey.IsZero())

	require.Len(t, list.Wireguard.PortRanges, 2)
	require.Equal(t, uint16(4000), list.Wireguard.PortRanges[1].First)
	require.Equal(t, uint16(33433), list.Wireguard.PortRanges[1].Last)
	require.Equal(t, "10.64.0.1", list.Wireguard.IPv4Gateway.String())
	require.Equal(t, []uint16{80, 443, 5001}, list.Wireguard.UDP2TCPPorts)
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte("{"))
	require.Error(t, err)

	_, err = Parse([]byte(`{"countries": [{"cities": [{"relays": [{"endpoint_data": {"wireguard": {"public_key": "not-a-key"}}}]}]}]}`))
	require.Error(t, err)
}

func TestPortRangeSize(t *testing.T) {
	require.Equal(t, uint32(1), PortRange{53, 53}.Size())
	require.Equal(t, uint32(29434), PortRange{4000, 33433}.Size())
	require.Equal(t, uint32(0), PortRange{100, 99}.Size())
}

func TestDigest(t *testing.T) {
	content := []byte(`{"countries": []}`)
	require.Equal(t, Digest(content), Digest([]byte(`{"countries": []}`)))
	require.NotEqual(t, Digest(content), Digest([]byte(`{"countries": [ ]}`)))
}
