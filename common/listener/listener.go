// Package listener opens the TCP listener behind the management server.
package listener

import (
	"context"
	"net"
)

// Listen opens a TCP listener on address with keep-alive enabled.
func Listen(ctx context.Context, address string) (net.Listener, error) {
	var config net.ListenConfig
	setKeepAliveConfig(&config)
	return config.Listen(ctx, "tcp", address)
}
