package adapter

import (
	"context"
	"net/netip"
	"time"

	"github.com/sagernet/sing-relay/relaylist"
	"github.com/sagernet/sing/common/observable"
)

// ListManager owns the current relay list and the location hierarchy built
// from it, and keeps both fresh.
type ListManager interface {
	Lifecycle
	// List returns the last applied relay list, or nil before the first load.
	List() *relaylist.List
	// Index returns the hierarchy built from the last applied list, or nil
	// before the first load.
	Index() *relaylist.Index
	UpdatedAt() time.Time
	// Update fetches the list once, outside the periodic schedule.
	Update(ctx context.Context) error
	Subscribe() (subscription observable.Subscription[ListUpdateEvent], done <-chan struct{}, err error)
	UnSubscribe(subscription observable.Subscription[ListUpdateEvent])
}

// ListUpdateEvent describes one applied relay list update.
type ListUpdateEvent struct {
	JobID     string    `json:"job_id"`
	Trigger   string    `json:"trigger"`
	Source    string    `json:"source"`
	Digest    uint64    `json:"digest"`
	Countries int       `json:"countries"`
	Cities    int       `json:"cities"`
	Relays    int       `json:"relays"`
	UpdatedAt time.Time `json:"updated_at"`

	Index *relaylist.Index `json:"-"`
}

// RelaySelector picks concrete relay endpoints from the current hierarchy.
type RelaySelector interface {
	Lifecycle
	// Select picks a relay for the sticky key and retry attempt. Key is
	// ignored by strategies that do not use one.
	Select(ctx context.Context, key string, attempt int) (*Selection, error)
	// Resolve resolves a location constraint against the current hierarchy.
	Resolve(constraint relaylist.LocationConstraint) (relaylist.Item, bool)
	// LastSelected returns the hostname of the most recent selection, or
	// an empty string before the first one.
	LastSelected() string
}

// Selection is one picked relay with the endpoint to dial it at.
type Selection struct {
	Relay    *relaylist.Relay `json:"relay"`
	Endpoint netip.AddrPort   `json:"endpoint"`
	Strategy string           `json:"strategy"`
}

// ProbeHistory is the most recent reachability result for one relay.
type ProbeHistory struct {
	Time     time.Time `json:"time"`
	RTT      uint16    `json:"rtt"`
	Failures uint32    `json:"failures"`
}

func (h *ProbeHistory) Reachable() bool {
	return h.Failures == 0
}
