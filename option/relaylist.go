package option

import "github.com/sagernet/sing/common/json/badoption"

type RelayListOptions struct {
	URL            string               `json:"url,omitempty"`
	Path           string               `json:"path,omitempty"`
	OverridePath   string               `json:"override_path,omitempty"`
	Headers        badoption.HTTPHeader `json:"headers,omitempty"`
	BootstrapDNS   string               `json:"bootstrap_dns,omitempty"`
	UpdateInterval badoption.Duration   `json:"update_interval,omitempty"`
	UpdateTimeout  badoption.Duration   `json:"update_timeout,omitempty"`
	DisableUpdate  bool                 `json:"disable_update,omitempty"`
}
