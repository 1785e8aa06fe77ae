//go:build !go1.23

package listener

import "net"

func setKeepAliveConfig(listener *net.ListenConfig) {
	// Setting KeepAlive to -1 enables TCP keep-alive with system defaults.
	listener.KeepAlive = -1
}
