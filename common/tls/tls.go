// Package tls builds inbound TLS configurations for the API listener,
// from static key pairs or ACME managed certificates.
package tls

import (
	"context"
	"crypto/tls"

	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	E "github.com/sagernet/sing/common/exceptions"
)

// ServerConfig is a started inbound TLS configuration. Config returns the
// current state and must be called per connection so certificate reloads
// take effect.
type ServerConfig interface {
	Config() *tls.Config
	Start() error
	Close() error
}

// NewServer builds a server configuration from options. It returns nil
// without error when TLS is disabled.
func NewServer(ctx context.Context, logger log.Logger, options option.InboundTLSOptions) (ServerConfig, error) {
	if !options.Enabled {
		return nil, nil
	}
	return newSTDServer(ctx, logger, options)
}

func ParseTLSVersion(version string) (uint16, error) {
	switch version {
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, E.New("unknown tls version: ", version)
	}
}
