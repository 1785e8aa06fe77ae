package option

import (
	"net/netip"

	"github.com/sagernet/sing/common/json/badoption"
)

type SelectorOptions struct {
	Strategy         string                           `json:"strategy,omitempty"`
	Location         *LocationOptions                 `json:"location,omitempty"`
	Ownership        *bool                            `json:"ownership,omitempty"`
	Providers        badoption.Listable[string]       `json:"providers,omitempty"`
	IncludeInactive  bool                             `json:"include_inactive,omitempty"`
	Port             uint16                           `json:"port,omitempty"`
	ExcludeEndpoints badoption.Listable[netip.Prefix] `json:"exclude_endpoints,omitempty"`
	Sticky           *StickyOptions                   `json:"sticky,omitempty"`
}

// LocationOptions narrows selection to a country, a city within it or a
// single relay. Absent fields leave the corresponding level
// unconstrained.
type LocationOptions struct {
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

type StickyOptions struct {
	VirtualNodes int    `json:"virtual_nodes,omitempty"`
	Salt         string `json:"salt,omitempty"`
	OnEmptyKey   string `json:"on_empty_key,omitempty"`
}
