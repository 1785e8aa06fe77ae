package constant

import "time"

const (
	TCPTimeout       = 15 * time.Second
	StartTimeout     = 10 * time.Second
	StopTimeout      = 5 * time.Second
	FatalStopTimeout = 10 * time.Second
)

const (
	DefaultUpdateInterval = 1 * time.Hour
	DefaultUpdateTimeout  = 30 * time.Second
	DefaultProbeInterval  = 3 * time.Minute
	DefaultProbeTimeout   = 5 * time.Second
	DefaultDNSTimeout     = 5 * time.Second
)
