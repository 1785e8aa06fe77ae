package relaylist

import (
	"testing"

	"github.com/sagernet/sing/common/json"

	"github.com/stretchr/testify/require"
)

func TestConstraint(t *testing.T) {
	anyLocation := Any[Location]()
	require.True(t, anyLocation.IsAny())
	require.False(t, anyLocation.IsOnly())
	_, loaded := anyLocation.Value()
	require.False(t, loaded)
	require.Equal(t, "any", anyLocation.String())

	only := Only(CountryLocation("se"))
	require.False(t, only.IsAny())
	require.True(t, only.IsOnly())
	location, loaded := only.Value()
	require.True(t, loaded)
	require.Equal(t, "se", location.Country)
	require.Equal(t, "se", only.String())
}

func TestConstraintOtherTypes(t *testing.T) {
	// The same constraint shape serves non-location filters too.
	owned := Only(true)
	value, loaded := owned.Value()
	require.True(t, loaded)
	require.True(t, value)

	providers := Only([]string{"31173", "blix"})
	list, loaded := providers.Value()
	require.True(t, loaded)
	require.Len(t, list, 2)

	require.True(t, Any[bool]().IsAny())
}

func TestLocationString(t *testing.T) {
	require.Equal(t, "se", CountryLocation("se").String())
	require.Equal(t, "se/sto", CityLocation("se", "sto").String())
	require.Equal(t, "se/sto/se1-wg-001", HostnameLocation("se", "sto", "se1-wg-001").String())
}

func TestLocationJSON(t *testing.T) {
	// Kind derives from the deepest field present in the document.
	var location Location
	err := json.Unmarshal([]byte(`{"country":"se"}`), &location)
	require.NoError(t, err)
	require.Equal(t, LocationCountry, location.Kind)

	err = json.Unmarshal([]byte(`{"country":"se","city":"sto"}`), &location)
	require.NoError(t, err)
	require.Equal(t, LocationCity, location.Kind)

	err = json.Unmarshal([]byte(`{"country":"se","city":"sto","hostname":"se1-wg-001"}`), &location)
	require.NoError(t, err)
	require.Equal(t, LocationHostname, location.Kind)
	require.Equal(t, HostnameLocation("se", "sto", "se1-wg-001"), location)
}
