package ephemeral

import (
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Config is one WireGuard device configuration. The negotiator rewrites
// it in place with the ephemeral private key and the preshared keys the
// exchange produced.
type Config struct {
	PrivateKey  wgtypes.Key
	IPv4Gateway netip.Addr

	// EntryPeer is the relay the device connects to. Single hop
	// configurations carry no other peer.
	EntryPeer Peer

	// ExitPeer, when set, makes the configuration multihop: traffic
	// leaves through it while EntryPeer only forwards.
	ExitPeer *Peer

	QuantumResistant bool
	DAITA            bool
}

// Peer is one WireGuard peer of a Config.
type Peer struct {
	PublicKey          wgtypes.Key
	Endpoint           netip.AddrPort
	AllowedIPs         []netip.Prefix
	PresharedKey       *wgtypes.Key
	ConstantPacketSize bool
}

// IsMultihop reports whether traffic exits through a relay other than
// the one the device connects to.
func (c *Config) IsMultihop() bool {
	return c.ExitPeer != nil
}

// exitPeer returns the peer the exit exchange installs its preshared
// key on. Single hop configurations have one peer filling both roles.
func (c *Config) exitPeer() *Peer {
	if c.ExitPeer != nil {
		return c.ExitPeer
	}
	return &c.EntryPeer
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.EntryPeer = c.EntryPeer.clone()
	if c.ExitPeer != nil {
		exitPeer := c.ExitPeer.clone()
		clone.ExitPeer = &exitPeer
	}
	return &clone
}

func (p Peer) clone() Peer {
	clone := p
	if p.AllowedIPs != nil {
		clone.AllowedIPs = make([]netip.Prefix, len(p.AllowedIPs))
		copy(clone.AllowedIPs, p.AllowedIPs)
	}
	if p.PresharedKey != nil {
		presharedKey := *p.PresharedKey
		clone.PresharedKey = &presharedKey
	}
	return clone
}
