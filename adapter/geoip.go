package adapter

import "net/netip"

// CountryReader provides country code lookup for relay endpoints.
// Implementations should use MaxMind GeoLite2-Country database or
// compatible format.
type CountryReader interface {
	// Lookup returns the lowercase ISO country code for the given IP
	// address. Returns empty string if the IP is not found in the database.
	Lookup(addr netip.Addr) string
}
