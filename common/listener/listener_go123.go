//go:build go1.23

package listener

import "net"

func setKeepAliveConfig(listener *net.ListenConfig) {
	// Zero Idle and Interval keep the probe timing on system defaults.
	listener.KeepAliveConfig = net.KeepAliveConfig{
		Enable: true,
	}
}
