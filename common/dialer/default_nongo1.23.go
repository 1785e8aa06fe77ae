//go:build !go1.23

package dialer

import "net"

func setKeepAliveConfig(dialer *net.Dialer) {
	// Setting KeepAlive to -1 enables TCP keep-alive with system defaults.
	dialer.KeepAlive = -1
}
