package relay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing-relay/relaylist"

	"github.com/stretchr/testify/require"
)

const testListDocument = `{
	"countries": [
		{
			"name": "Sweden",
			"code": "se",
			"cities": [
				{
					"name": "Gothenburg",
					"code": "got",
					"latitude": 57.70887,
					"longitude": 11.97456,
					"relays": [
						{
							"hostname": "se1-wireguard",
							"ipv4_addr_in": "192.0.2.1",
							"include_in_country": true,
							"active": true,
							"owned": true,
							"provider": "31173",
							"weight": 100
						},
						{
							"hostname": "se2-wireguard",
							"ipv4_addr_in": "192.0.2.2",
							"active": true,
							"provider": "DataPacket",
							"weight": 50
						}
					]
				}
			]
		}
	],
	"wireguard": {
		"port_ranges": [[51820, 51820]],
		"ipv4_gateway": "10.64.0.1"
	}
}`

func testOptions(t *testing.T) option.Options {
	t.Helper()
	seedPath := filepath.Join(t.TempDir(), "relays.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(testListDocument), 0o644))
	return option.Options{
		Log: &option.LogOptions{Disabled: true},
		RelayList: &option.RelayListOptions{
			Path:          seedPath,
			DisableUpdate: true,
		},
	}
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()
	instance, err := New(Options{Options: testOptions(t)})
	require.NoError(t, err)
	require.NoError(t, instance.Start())
	require.NotNil(t, instance.ListManager().Index())
	item, found := instance.Selector().Resolve(relaylist.Only(relaylist.CountryLocation("se")))
	require.True(t, found)
	country, isCountry := item.(*relaylist.Country)
	require.True(t, isCountry)
	require.Equal(t, "Sweden", country.Name)
	require.NoError(t, instance.Close())
	require.ErrorIs(t, instance.Close(), os.ErrClosed)
}

func TestServiceCacheFile(t *testing.T) {
	t.Parallel()
	options := testOptions(t)
	cachePath := filepath.Join(t.TempDir(), "cache.db")
	options.CacheFile = &option.CacheFileOptions{
		Enabled: true,
		Path:    cachePath,
	}
	instance, err := New(Options{Options: options})
	require.NoError(t, err)
	require.NoError(t, instance.Start())
	_, err = os.Stat(cachePath)
	require.NoError(t, err)
	require.NoError(t, instance.Close())
}

func TestServiceWithoutSources(t *testing.T) {
	t.Parallel()
	instance, err := New(Options{Options: option.Options{
		Log:       &option.LogOptions{Disabled: true},
		RelayList: &option.RelayListOptions{DisableUpdate: true},
	}})
	require.NoError(t, err)
	require.NoError(t, instance.Start())
	require.Nil(t, instance.ListManager().Index())
	_, found := instance.Selector().Resolve(relaylist.Only(relaylist.CountryLocation("se")))
	require.False(t, found)
	require.NoError(t, instance.Close())
}
