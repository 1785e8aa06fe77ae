//go:build go1.23

package dialer

import "net"

func setKeepAliveConfig(dialer *net.Dialer) {
	// Zero Idle and Interval keep the probe timing on system defaults.
	dialer.KeepAliveConfig = net.KeepAliveConfig{
		Enable: true,
	}
}
