package ephemeral

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/sagernet/sing-relay/log"
	E "github.com/sagernet/sing/common/exceptions"

	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

type testTunnel struct {
	configs     []Config
	daitaStarts int
	setErr      error
}

func (t *testTunnel) SetConfig(ctx context.Context, config Config) error {
	if t.setErr != nil {
		return t.setErr
	}
	t.configs = append(t.configs, config)
	return nil
}

func (t *testTunnel) StartDAITA(ctx context.Context) error {
	t.daitaStarts++
	return nil
}

type testExchanger struct {
	requests     []ExchangeRequest
	exchangeFunc func(ctx context.Context, request ExchangeRequest) (*wgtypes.Key, error)
}

func (e *testExchanger) ExchangeEphemeralPeer(ctx context.Context, request ExchangeRequest) (*wgtypes.Key, error) {
	e.requests = append(e.requests, request)
	if e.exchangeFunc != nil {
		return e.exchangeFunc(ctx, request)
	}
	return nil, nil
}

func generateKey(t *testing.T) wgtypes.Key {
	t.Helper()
	key, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func singleHopConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		PrivateKey:  generateKey(t),
		IPv4Gateway: netip.MustParseAddr("10.64.0.1"),
		EntryPeer: Peer{
			PublicKey:  generateKey(t).PublicKey(),
			Endpoint:   netip.MustParseAddrPort("192.0.2.1:51820"),
			AllowedIPs: []netip.Prefix{netip.MustParsePrefix("0.0.0.0/0")},
		},
		QuantumResistant: true,
	}
}

// dhExchanger answers requests the way a relay would: with the
// preshared key derived from its own key and the ephemeral public key
// of the request.
func dhExchanger(t *testing.T) (*testExchanger, wgtypes.Key) {
	t.Helper()
	relayKey := generateKey(t)
	exchanger := &testExchanger{exchangeFunc: func(ctx context.Context, request ExchangeRequest) (*wgtypes.Key, error) {
		presharedKey, err := DerivePresharedKey(relayKey, request.EphemeralPublicKey)
		if err != nil {
			return nil, err
		}
		return &presharedKey, nil
	}}
	return exchanger, relayKey
}

func newTestNegotiator(t *testing.T, tunnel Tunnel, exchanger PeerExchanger) *Negotiator {
	t.Helper()
	negotiator, err := NewNegotiator(NegotiatorOptions{
		Logger:    log.NewNOPFactory().Logger(),
		Tunnel:    tunnel,
		Exchanger: exchanger,
	})
	require.NoError(t, err)
	return negotiator
}

func TestNegotiateSingleHop(t *testing.T) {
	t.Parallel()
	tunnel := &testTunnel{}
	exchanger, relayKey := dhExchanger(t)
	config := singleHopConfig(t)
	originalKey := config.PrivateKey

	err := newTestNegotiator(t, tunnel, exchanger).Negotiate(context.Background(), config, 0)
	require.NoError(t, err)

	require.Len(t, exchanger.requests, 1)
	request := exchanger.requests[0]
	require.Equal(t, config.IPv4Gateway, request.Gateway)
	require.Equal(t, originalKey.PublicKey(), request.PublicKey)
	require.True(t, request.QuantumResistant)
	require.False(t, request.DAITA)

	// The device key is replaced by the ephemeral key the exchange ran
	// for.
	require.NotEqual(t, originalKey, config.PrivateKey)
	require.Equal(t, request.EphemeralPublicKey, config.PrivateKey.PublicKey())

	// Both sides of the exchange arrive at the same preshared key.
	require.NotNil(t, config.EntryPeer.PresharedKey)
	expected, err := DerivePresharedKey(config.PrivateKey, relayKey.PublicKey())
	require.NoError(t, err)
	require.Equal(t, expected, *config.EntryPeer.PresharedKey)

	require.Len(t, tunnel.configs, 1)
	require.Equal(t, *config, tunnel.configs[0])
	require.False(t, config.EntryPeer.ConstantPacketSize)
	require.Equal(t, 0, tunnel.daitaStarts)
}

func TestNegotiateSingleHopDAITA(t *testing.T) {
	t.Parallel()
	tunnel := &testTunnel{}
	exchanger, _ := dhExchanger(t)
	config := singleHopConfig(t)
	config.DAITA = true

	err := newTestNegotiator(t, tunnel, exchanger).Negotiate(context.Background(), config, 0)
	require.NoError(t, err)

	require.Len(t, exchanger.requests, 1)
	require.True(t, exchanger.requests[0].DAITA)
	require.True(t, config.EntryPeer.ConstantPacketSize)
	require.Equal(t, 1, tunnel.daitaStarts)
}

func TestNegotiateMultihop(t *testing.T) {
	t.Parallel()
	tunnel := &testTunnel{}
	exitPresharedKey := generateKey(t)
	entryPresharedKey := generateKey(t)
	responses := []*wgtypes.Key{&exitPresharedKey, &entryPresharedKey}
	exchanger := &testExchanger{exchangeFunc: func(ctx context.Context, request ExchangeRequest) (*wgtypes.Key, error) {
		response := responses[0]
		responses = responses[1:]
		return response, nil
	}}

	config := singleHopConfig(t)
	config.DAITA = true
	config.ExitPeer = &Peer{
		PublicKey:  generateKey(t).PublicKey(),
		AllowedIPs: []netip.Prefix{netip.MustParsePrefix("0.0.0.0/0")},
	}
	originalKey := config.PrivateKey
	gatewayRoute := netip.PrefixFrom(config.IPv4Gateway, 32)

	err := newTestNegotiator(t, tunnel, exchanger).Negotiate(context.Background(), config, 0)
	require.NoError(t, err)

	// The exit exchange runs first and never carries DAITA on multihop;
	// the entry exchange follows with the same ephemeral key.
	require.Len(t, exchanger.requests, 2)
	require.False(t, exchanger.requests[0].DAITA)
	require.True(t, exchanger.requests[1].DAITA)
	require.Equal(t, exchanger.requests[0].EphemeralPublicKey, exchanger.requests[1].EphemeralPublicKey)
	require.Equal(t, originalKey.PublicKey(), exchanger.requests[1].PublicKey)

	// The entry reconfiguration pins the gateway route and still runs on
	// the original key; the final one swaps in the ephemeral key and
	// drops the pin.
	require.Len(t, tunnel.configs, 2)
	entryPhase := tunnel.configs[0]
	require.Equal(t, originalKey, entryPhase.PrivateKey)
	require.Contains(t, entryPhase.EntryPeer.AllowedIPs, gatewayRoute)
	require.Nil(t, entryPhase.EntryPeer.PresharedKey)

	final := tunnel.configs[1]
	require.Equal(t, config.PrivateKey, final.PrivateKey)
	require.NotEqual(t, originalKey, final.PrivateKey)
	require.NotContains(t, final.EntryPeer.AllowedIPs, gatewayRoute)
	require.Equal(t, entryPresharedKey, *final.EntryPeer.PresharedKey)
	require.Equal(t, exitPresharedKey, *final.ExitPeer.PresharedKey)
	require.True(t, final.EntryPeer.ConstantPacketSize)
	require.Equal(t, 1, tunnel.daitaStarts)
}

func TestNegotiateExchangeTimeout(t *testing.T) {
	t.Parallel()
	tunnel := &testTunnel{}
	exchanger := &testExchanger{exchangeFunc: func(ctx context.Context, request ExchangeRequest) (*wgtypes.Key, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	negotiator, err := NewNegotiator(NegotiatorOptions{
		Tunnel:         tunnel,
		Exchanger:      exchanger,
		InitialTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	err = negotiator.Negotiate(context.Background(), singleHopConfig(t), 0)
	require.ErrorIs(t, err, ErrExchangeTimeout)
	require.Empty(t, tunnel.configs)
}

func TestNegotiateExchangeError(t *testing.T) {
	t.Parallel()
	tunnel := &testTunnel{}
	exchanger := &testExchanger{exchangeFunc: func(ctx context.Context, request ExchangeRequest) (*wgtypes.Key, error) {
		return nil, E.New("gateway unreachable")
	}}

	err := newTestNegotiator(t, tunnel, exchanger).Negotiate(context.Background(), singleHopConfig(t), 0)
	require.ErrorContains(t, err, "exchange ephemeral peer")
	require.Empty(t, tunnel.configs)
}

func TestNegotiateTunnelError(t *testing.T) {
	t.Parallel()
	tunnel := &testTunnel{setErr: E.New("device closed")}
	exchanger, _ := dhExchanger(t)

	err := newTestNegotiator(t, tunnel, exchanger).Negotiate(context.Background(), singleHopConfig(t), 0)
	require.ErrorContains(t, err, "reconfigure tunnel")
}

func TestNewNegotiator(t *testing.T) {
	t.Parallel()
	_, err := NewNegotiator(NegotiatorOptions{Exchanger: &testExchanger{}})
	require.Error(t, err)
	_, err = NewNegotiator(NegotiatorOptions{Tunnel: &testTunnel{}})
	require.Error(t, err)
}

func TestExchangeTimeout(t *testing.T) {
	t.Parallel()
	for attempt, expected := range []time.Duration{
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		48 * time.Second,
		48 * time.Second,
	} {
		require.Equal(t, expected, ExchangeTimeout(0, attempt), "attempt %d", attempt)
	}
	require.Equal(t, 10*time.Second, ExchangeTimeout(5*time.Second, 1))
	require.Equal(t, 48*time.Second, ExchangeTimeout(time.Minute, 0))
	require.Equal(t, 48*time.Second, ExchangeTimeout(time.Second, 100))
}

func TestDerivePresharedKey(t *testing.T) {
	t.Parallel()
	clientKey := generateKey(t)
	relayKey := generateKey(t)

	fromClient, err := DerivePresharedKey(clientKey, relayKey.PublicKey())
	require.NoError(t, err)
	fromRelay, err := DerivePresharedKey(relayKey, clientKey.PublicKey())
	require.NoError(t, err)
	require.Equal(t, fromClient, fromRelay)
	require.NotEqual(t, wgtypes.Key{}, fromClient)

	otherKey := generateKey(t)
	other, err := DerivePresharedKey(clientKey, otherKey.PublicKey())
	require.NoError(t, err)
	require.NotEqual(t, fromClient, other)
}

func TestConfigClone(t *testing.T) {
	t.Parallel()
	presharedKey := generateKey(t)
	config := singleHopConfig(t)
	config.EntryPeer.PresharedKey = &presharedKey
	config.ExitPeer = &Peer{PublicKey: generateKey(t).PublicKey()}

	clone := config.Clone()
	clone.EntryPeer.AllowedIPs = append(clone.EntryPeer.AllowedIPs, netip.MustParsePrefix("10.64.0.1/32"))
	*clone.EntryPeer.PresharedKey = wgtypes.Key{}
	clone.ExitPeer.PublicKey = wgtypes.Key{}

	require.Len(t, config.EntryPeer.AllowedIPs, 1)
	require.Equal(t, presharedKey, *config.EntryPeer.PresharedKey)
	require.NotEqual(t, wgtypes.Key{}, config.ExitPeer.PublicKey)
}
