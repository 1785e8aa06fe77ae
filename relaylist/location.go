package relaylist

import (
	"github.com/sagernet/sing/common/json"
)

// LocationKind selects the depth a Location addresses.
type LocationKind uint8

const (
	LocationCountry LocationKind = iota
	LocationCity
	LocationHostname
)

func (k LocationKind) String() string {
	switch k {
	case LocationCountry:
		return "country"
	case LocationCity:
		return "city"
	case LocationHostname:
		return "hostname"
	default:
		return "unknown"
	}
}

// Location addresses a node of the relay hierarchy at country, city or
// relay depth. Kind decides how many of the code fields take part in
// matching; codes compare by exact, case-sensitive equality.
type Location struct {
	Kind     LocationKind `json:"-"`
	Country  string       `json:"country"`
	City     string       `json:"city,omitempty"`
	Hostname string       `json:"hostname,omitempty"`
}

// LocationConstraint is a constraint over hierarchy locations.
type LocationConstraint = Constraint[Location]

func CountryLocation(countryCode string) Location {
	return Location{
		Kind:    LocationCountry,
		Country: countryCode,
	}
}

func CityLocation(countryCode string, cityCode string) Location {
	return Location{
		Kind:    LocationCity,
		Country: countryCode,
		City:    cityCode,
	}
}

func HostnameLocation(countryCode string, cityCode string, hostname string) Location {
	return Location{
		Kind:     LocationHostname,
		Country:  countryCode,
		City:     cityCode,
		Hostname: hostname,
	}
}

func (l Location) String() string {
	switch l.Kind {
	case LocationCity:
		return l.Country + "/" + l.City
	case LocationHostname:
		return l.Country + "/" + l.City + "/" + l.Hostname
	default:
		return l.Country
	}
}

type _Location Location

// UnmarshalJSON derives Kind from the deepest field present, so documents
// only need to carry the codes they constrain on.
func (l *Location) UnmarshalJSON(content []byte) error {
	err := json.Unmarshal(content, (*_Location)(l))
	if err != nil {
		return err
	}
	switch {
	case l.Hostname != "":
		l.Kind = LocationHostname
	case l.City != "":
		l.Kind = LocationCity
	default:
		l.Kind = LocationCountry
	}
	return nil
}
