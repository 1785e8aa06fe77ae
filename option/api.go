package option

import "github.com/sagernet/sing/common/json/badoption"

type APIOptions struct {
	Listen                           string                     `json:"listen,omitempty"`
	Secret                           string                     `json:"secret,omitempty"`
	AccessControlAllowOrigin         badoption.Listable[string] `json:"access_control_allow_origin,omitempty"`
	AccessControlAllowPrivateNetwork bool                       `json:"access_control_allow_private_network,omitempty"`
	TLS                              *InboundTLSOptions         `json:"tls,omitempty"`
}
