package relaylist

import (
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Item is a node of the built hierarchy, implemented by *Country, *City
// and *Relay.
type Item interface {
	// Location returns the location that resolves back to this exact node.
	Location() Location
}

var (
	_ Item = (*Country)(nil)
	_ Item = (*City)(nil)
	_ Item = (*Relay)(nil)
)

// Country is a top level hierarchy node.
type Country struct {
	Name string `json:"name"`
	Code string `json:"code"`
	// Expanded is a presentation hint for list renderings. It starts false
	// and takes no part in matching.
	Expanded bool    `json:"expanded"`
	Cities   []*City `json:"cities"`
}

func (c *Country) Location() Location {
	return CountryLocation(c.Code)
}

// City returns the first city with the given code.
func (c *Country) City(code string) (*City, bool) {
	for _, city := range c.Cities {
		if city.Code == code {
			return city, true
		}
	}
	return nil, false
}

// City is a mid level hierarchy node. CountryCode always equals the code
// of the owning country.
type City struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	CountryCode string   `json:"country_code"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Expanded    bool     `json:"expanded"`
	Relays      []*Relay `json:"relays"`
}

func (c *City) Location() Location {
	return CityLocation(c.CountryCode, c.Code)
}

// Relay returns the first relay with the given hostname.
func (c *City) Relay(hostname string) (*Relay, bool) {
	for _, relay := range c.Relays {
		if relay.Hostname == hostname {
			return relay, true
		}
	}
	return nil, false
}

// Relay is a leaf hierarchy node. CountryCode and CityCode always equal
// the identity of the owning city.
type Relay struct {
	Hostname         string      `json:"hostname"`
	CountryCode      string      `json:"country_code"`
	CityCode         string      `json:"city_code"`
	IPv4AddrIn       netip.Addr  `json:"ipv4_addr_in"`
	IPv6AddrIn       netip.Addr  `json:"ipv6_addr_in,omitempty"`
	IncludeInCountry bool        `json:"include_in_country"`
	Active           bool        `json:"active"`
	Owned            bool        `json:"owned"`
	Provider         string      `json:"provider"`
	Weight           uint64      `json:"weight"`
	PublicKey        wgtypes.Key `json:"-"`
}

func (r *Relay) Location() Location {
	return HostnameLocation(r.CountryCode, r.CityCode, r.Hostname)
}

// Index is the immutable location hierarchy built from a relay list.
// Construction copies every node, so later changes to the source list do
// not show through, and an Index never changes once built: concurrent
// readers need no locking.
type Index struct {
	countries []*Country
	relays    []*Relay
	cityCount int
}

// NewIndex builds the hierarchy from a parsed list. Input order is kept
// as-is; codes are copied down to every child and nothing is validated,
// sorted or deduplicated.
func NewIndex(list *List) *Index {
	index := &Index{
		countries: make([]*Country, 0, len(list.Countries)),
	}
	for _, rawCountry := range list.Countries {
		country := &Country{
			Name:   rawCountry.Name,
			Code:   rawCountry.Code,
			Cities: make([]*City, 0, len(rawCountry.Cities)),
		}
		for _, rawCity := range rawCountry.Cities {
			city := &City{
				Name:        rawCity.Name,
				Code:        rawCity.Code,
				CountryCode: rawCountry.Code,
				Latitude:    rawCity.Latitude,
				Longitude:   rawCity.Longitude,
				Relays:      make([]*Relay, 0, len(rawCity.Relays)),
			}
			for _, rawRelay := range rawCity.Relays {
				relay := &Relay{
					Hostname:         rawRelay.Hostname,
					CountryCode:      rawCountry.Code,
					CityCode:         rawCity.Code,
					IPv4AddrIn:       rawRelay.IPv4AddrIn,
					IPv6AddrIn:       rawRelay.IPv6AddrIn,
					IncludeInCountry: rawRelay.IncludeInCountry,
					Active:           rawRelay.Active,
					Owned:            rawRelay.Owned,
					Provider:         rawRelay.Provider,
					Weight:           rawRelay.Weight,
					PublicKey:        rawRelay.EndpointData.Wireguard.PublicKey.Key,
				}
				city.Relays = append(city.Relays, relay)
				index.relays = append(index.relays, relay)
			}
			country.Cities = append(country.Cities, city)
			index.cityCount++
		}
		index.countries = append(index.countries, country)
	}
	return index
}

// Countries returns the countries in input order. Callers must not modify
// the returned slice or the nodes it reaches.
func (i *Index) Countries() []*Country {
	return i.countries
}

// Country returns the first country with the given code.
func (i *Index) Country(code string) (*Country, bool) {
	for _, country := range i.countries {
		if country.Code == code {
			return country, true
		}
	}
	return nil, false
}

// Relays returns every relay in input order.
func (i *Index) Relays() []*Relay {
	return i.relays
}

func (i *Index) Stats() (countries int, cities int, relays int) {
	return len(i.countries), i.cityCount, len(i.relays)
}

// FindByLocation resolves a location constraint to the hierarchy node it
// addresses. The any constraint and every lookup miss yield (nil, false);
// matches are first-match in input order at each level.
func (i *Index) FindByLocation(constraint Constraint[Location]) (Item, bool) {
	location, loaded := constraint.Value()
	if !loaded {
		return nil, false
	}
	country, loaded := i.Country(location.Country)
	if !loaded {
		return nil, false
	}
	switch location.Kind {
	case LocationCountry:
		return country, true
	case LocationCity, LocationHostname:
		city, loaded := country.City(location.City)
		if !loaded {
			return nil, false
		}
		if location.Kind == LocationCity {
			return city, true
		}
		relay, loaded := city.Relay(location.Hostname)
		if !loaded {
			return nil, false
		}
		return relay, true
	default:
		return nil, false
	}
}
