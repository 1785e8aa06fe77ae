package updater

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sagernet/sing-relay/adapter"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing/common/json/badoption"
	"github.com/sagernet/sing/common/observable"
	"github.com/sagernet/sing/service"

	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
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
							"weight": 100,
							"endpoint_data": {
								"wireguard": {
									"public_key": "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="
								}
							}
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
		"port_ranges": [[51820, 51820], [4000, 4001]],
		"ipv4_gateway": "10.64.0.1",
		"ipv6_gateway": "fc00:bbbb:bbbb:bb01::1",
		"udp2tcp_ports": [443]
	}
}`

const updatedListDocument = `{
	"countries": [
		{
			"name": "Germany",
			"code": "de",
			"cities": [
				{
					"name": "Frankfurt",
					"code": "fra",
					"relays": [
						{
							"hostname": "de1-wireguard",
							"ipv4_addr_in": "192.0.2.3",
							"include_in_country": true,
							"active": true,
							"provider": "31173",
							"weight": 100
						}
					]
				}
			]
		}
	],
	"wireguard": {
		"port_ranges": [[51820, 51820]]
	}
}`

type mockCacheFile struct {
	saved *adapter.SavedRelayList
}

func (m *mockCacheFile) Start(stage adapter.StartStage) error   { return nil }
func (m *mockCacheFile) Close() error                           { return nil }
func (m *mockCacheFile) LoadRelayList() *adapter.SavedRelayList { return m.saved }
func (m *mockCacheFile) StoreSelectedEnabled() bool             { return false }
func (m *mockCacheFile) LoadSelected(tag string) string         { return "" }

func (m *mockCacheFile) StoreRelayList(list *adapter.SavedRelayList) error {
	m.saved = list
	return nil
}

func (m *mockCacheFile) StoreSelected(tag string, hostname string) error {
	return nil
}

func newTestUpdater(t *testing.T, ctx context.Context, options option.RelayListOptions) *Updater {
	t.Helper()
	options.DisableUpdate = true
	updater, err := NewUpdater(ctx, log.NewNOPFactory().Logger(), options)
	require.NoError(t, err)
	for _, stage := range adapter.ListStartStages {
		require.NoError(t, updater.Start(stage))
	}
	t.Cleanup(func() {
		updater.Close()
	})
	return updater
}

func readUpdateEvent(t *testing.T, subscription observable.Subscription[adapter.ListUpdateEvent]) adapter.ListUpdateEvent {
	t.Helper()
	select {
	case event := <-subscription:
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for update event")
		return adapter.ListUpdateEvent{}
	}
}

func requireNoUpdateEvent(t *testing.T, subscription observable.Subscription[adapter.ListUpdateEvent]) {
	t.Helper()
	select {
	case event := <-subscription:
		t.Fatal("unexpected update event: ", event.Trigger)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUpdaterFetch(t *testing.T) {
	t.Parallel()
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requests.Add(1)
		if request.Header.Get("If-None-Match") == `"v1"` {
			writer.WriteHeader(http.StatusNotModified)
			return
		}
		writer.Header().Set("ETag", `"v1"`)
		writer.Write([]byte(testListDocument))
	}))
	defer server.Close()

	updater := newTestUpdater(t, context.Background(), option.RelayListOptions{URL: server.URL})
	subscription, _, err := updater.Subscribe()
	require.NoError(t, err)
	defer updater.UnSubscribe(subscription)

	require.Nil(t, updater.List())
	require.NoError(t, updater.Update(context.Background()))

	require.NotNil(t, updater.List())
	require.NotNil(t, updater.Index())
	countries, cities, relays := updater.Index().Stats()
	require.Equal(t, 1, countries)
	require.Equal(t, 1, cities)
	require.Equal(t, 2, relays)
	require.WithinDuration(t, time.Now(), updater.UpdatedAt(), time.Minute)
	require.Equal(t, []uint16{443}, updater.List().Wireguard.UDP2TCPPorts)

	event := readUpdateEvent(t, subscription)
	require.Equal(t, "manual", event.Trigger)
	require.Equal(t, server.URL, event.Source)
	require.Equal(t, 2, event.Relays)
	require.NotNil(t, event.Index)
	require.NotEmpty(t, event.JobID)

	// The second fetch revalidates with the etag and applies nothing.
	firstIndex := updater.Index()
	require.NoError(t, updater.Update(context.Background()))
	requireNoUpdateEvent(t, subscription)
	require.Same(t, firstIndex, updater.Index())
	require.Equal(t, int32(2), requests.Load())
}

func TestUpdaterContentChange(t *testing.T) {
	t.Parallel()
	document := testListDocument
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Write([]byte(document))
	}))
	defer server.Close()

	updater := newTestUpdater(t, context.Background(), option.RelayListOptions{URL: server.URL})
	subscription, _, err := updater.Subscribe()
	require.NoError(t, err)
	defer updater.UnSubscribe(subscription)

	require.NoError(t, updater.Update(context.Background()))
	first := readUpdateEvent(t, subscription)

	// Identical content is deduplicated by digest even without etags.
	require.NoError(t, updater.Update(context.Background()))
	requireNoUpdateEvent(t, subscription)

	document = updatedListDocument
	require.NoError(t, updater.Update(context.Background()))
	second := readUpdateEvent(t, subscription)
	require.NotEqual(t, first.Digest, second.Digest)
	require.Equal(t, 1, second.Relays)

	country, found := updater.Index().Country("de")
	require.True(t, found)
	require.Equal(t, "Germany", country.Name)
}

func TestUpdaterRequestHeaders(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Header.Get("Authorization") != "Bearer test-token" {
			writer.WriteHeader(http.StatusForbidden)
			return
		}
		if request.Header.Get("User-Agent") == "" {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		writer.Write([]byte(testListDocument))
	}))
	defer server.Close()

	updater := newTestUpdater(t, context.Background(), option.RelayListOptions{
		URL: server.URL,
		Headers: badoption.HTTPHeader{
			"Authorization": {"Bearer test-token"},
		},
	})
	require.NoError(t, updater.Update(context.Background()))
	require.NotNil(t, updater.List())
}

func TestUpdaterHTTPFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	updater := newTestUpdater(t, context.Background(), option.RelayListOptions{URL: server.URL})
	require.Error(t, updater.Update(context.Background()))
	require.Nil(t, updater.List())
}

func TestUpdaterParseFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Write([]byte("not a relay list"))
	}))
	defer server.Close()

	updater := newTestUpdater(t, context.Background(), option.RelayListOptions{URL: server.URL})
	require.Error(t, updater.Update(context.Background()))
	require.Nil(t, updater.List())
}

func TestUpdaterSeedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relays.json")
	require.NoError(t, os.WriteFile(path, []byte(testListDocument), 0o644))

	updater := newTestUpdater(t, context.Background(), option.RelayListOptions{Path: path})
	require.NotNil(t, updater.List())
	_, _, relays := updater.Index().Stats()
	require.Equal(t, 2, relays)

	relay := updater.Index().Relays()[0]
	require.Equal(t, "se1-wireguard", relay.Hostname)
	require.NotEqual(t, wgtypes.Key{}, relay.PublicKey)
}

func TestUpdaterCacheRoundTrip(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("ETag", `"v7"`)
		writer.Write([]byte(testListDocument))
	}))
	defer server.Close()

	cache := &mockCacheFile{}
	ctx := service.ContextWith[adapter.CacheFile](context.Background(), cache)

	updater := newTestUpdater(t, ctx, option.RelayListOptions{URL: server.URL})
	require.NoError(t, updater.Update(context.Background()))
	require.NotNil(t, cache.saved)
	require.Equal(t, `"v7"`, cache.saved.LastEtag)
	require.Equal(t, []byte(testListDocument), cache.saved.Content)

	// A fresh instance starts from the cached document without fetching.
	restored := newTestUpdater(t, ctx, option.RelayListOptions{URL: "http://127.0.0.1:1"})
	require.NotNil(t, restored.List())
	require.Equal(t, cache.saved.LastUpdated, restored.UpdatedAt())
	_, _, relays := restored.Index().Stats()
	require.Equal(t, 2, relays)
}

func TestUpdaterOverride(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	overridePath := filepath.Join(dir, "override.json")
	require.NoError(t, os.WriteFile(overridePath, []byte(testListDocument), 0o644))

	updater := newTestUpdater(t, context.Background(), option.RelayListOptions{
		URL:          "http://127.0.0.1:1",
		OverridePath: overridePath,
	})
	require.NotNil(t, updater.List())

	require.NoError(t, os.WriteFile(overridePath, []byte(updatedListDocument), 0o644))
	require.NoError(t, updater.reloadOverride())
	_, found := updater.Index().Country("de")
	require.True(t, found)
}
