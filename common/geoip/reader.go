package geoip

import (
	"net/netip"
	"strings"

	"github.com/sagernet/sing-relay/adapter"
	E "github.com/sagernet/sing/common/exceptions"

	"github.com/oschwald/maxminddb-golang"
)

var _ adapter.CountryReader = (*Reader)(nil)

// CountryRecord represents the structure returned by MaxMind GeoLite2-Country databases
type CountryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Reader provides country lookup functionality using MaxMind MMDB format
type Reader struct {
	reader *maxminddb.Reader
}

// Open opens a country database file and returns a Reader.
// The database must be in MaxMind MMDB format (GeoLite2-Country or compatible).
func Open(path string) (*Reader, error) {
	database, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	// Accept both free and commercial MaxMind country databases
	dbType := database.Metadata.DatabaseType
	if dbType != "GeoLite2-Country" && dbType != "GeoIP2-Country" {
		database.Close()
		return nil, E.New("incorrect database type, expected GeoLite2-Country, got ", dbType)
	}
	return &Reader{database}, nil
}

// Lookup returns the lowercase ISO 3166-1 country code for the given IP address.
// Returns an empty string if the IP is not found in the database or if lookup fails.
func (r *Reader) Lookup(addr netip.Addr) string {
	var record CountryRecord
	err := r.reader.Lookup(addr.AsSlice(), &record)
	if err != nil {
		return ""
	}
	return strings.ToLower(record.Country.ISOCode)
}

// Close closes the country database reader and releases resources.
func (r *Reader) Close() error {
	return r.reader.Close()
}
