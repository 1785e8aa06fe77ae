// Package ephemeral negotiates ephemeral peers with relays: a fresh
// device key and relay issued preshared keys, applied by reconfiguring
// the tunnel in place.
package ephemeral

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/sagernet/sing-relay/log"
	E "github.com/sagernet/sing/common/exceptions"

	"golang.org/x/exp/constraints"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

const (
	// InitialExchangeTimeout bounds the first exchange attempt. Every
	// retry doubles the allowance up to MaxExchangeTimeout.
	InitialExchangeTimeout = 8 * time.Second
	MaxExchangeTimeout     = 48 * time.Second

	exchangeTimeoutMultiplier = 2
)

// ErrExchangeTimeout is returned when an exchange attempt exhausts its
// timeout allowance.
var ErrExchangeTimeout = E.New("ephemeral peer exchange timed out")

// ExchangeRequest is one ephemeral peer request against the relay's
// configuration service, reached through the tunnel at the gateway
// address.
type ExchangeRequest struct {
	Gateway            netip.Addr
	PublicKey          wgtypes.Key
	EphemeralPublicKey wgtypes.Key
	QuantumResistant   bool
	DAITA              bool
}

// PeerExchanger runs the ephemeral peer exchange against a relay. The
// returned preshared key is nil when the exchange negotiated none.
type PeerExchanger interface {
	ExchangeEphemeralPeer(ctx context.Context, request ExchangeRequest) (*wgtypes.Key, error)
}

// Tunnel applies configurations to a running WireGuard device.
type Tunnel interface {
	SetConfig(ctx context.Context, config Config) error
	StartDAITA(ctx context.Context) error
}

type NegotiatorOptions struct {
	Logger    log.ContextLogger
	Tunnel    Tunnel
	Exchanger PeerExchanger

	// InitialTimeout overrides InitialExchangeTimeout for the first
	// exchange attempt.
	InitialTimeout time.Duration
}

// Negotiator obtains ephemeral peers and rewrites tunnel configurations
// to use them.
type Negotiator struct {
	logger         log.ContextLogger
	tunnel         Tunnel
	exchanger      PeerExchanger
	initialTimeout time.Duration
}

func NewNegotiator(options NegotiatorOptions) (*Negotiator, error) {
	if options.Tunnel == nil {
		return nil, E.New("missing tunnel")
	}
	if options.Exchanger == nil {
		return nil, E.New("missing peer exchanger")
	}
	logger := options.Logger
	if logger == nil {
		logger = log.NewNOPFactory().Logger()
	}
	initialTimeout := options.InitialTimeout
	if initialTimeout <= 0 {
		initialTimeout = InitialExchangeTimeout
	}
	return &Negotiator{
		logger:         logger,
		tunnel:         options.Tunnel,
		exchanger:      options.Exchanger,
		initialTimeout: initialTimeout,
	}, nil
}

// Negotiate obtains ephemeral peers for the configuration and applies
// the result to the tunnel. The configuration is rewritten in place
// with the preshared keys and the ephemeral private key. On multihop
// configurations the entry exchange runs over a temporary entry
// reconfiguration that pins the gateway route. Retry attempts widen
// the exchange timeout.
func (n *Negotiator) Negotiate(ctx context.Context, config *Config, retryAttempt int) error {
	ephemeralPrivateKey, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return E.Cause(err, "generate ephemeral key")
	}
	ephemeralPublicKey := ephemeralPrivateKey.PublicKey()

	exitDAITA := config.DAITA && !config.IsMultihop()
	exitPresharedKey, err := n.requestEphemeralPeer(ctx, config, ephemeralPublicKey, retryAttempt, exitDAITA)
	if err != nil {
		return err
	}
	n.logger.Debug("retrieved ephemeral peer")

	if config.IsMultihop() {
		// Pin the gateway route to the entry peer so the exchange
		// terminates there instead of at the exit.
		entryConfig := config.Clone()
		entryConfig.EntryPeer.AllowedIPs = append(entryConfig.EntryPeer.AllowedIPs, netip.PrefixFrom(config.IPv4Gateway, 32))
		err = n.tunnel.SetConfig(ctx, *entryConfig)
		if err != nil {
			return E.Cause(err, "reconfigure tunnel for entry exchange")
		}
		entryPresharedKey, err := n.requestEphemeralPeer(ctx, entryConfig, ephemeralPublicKey, retryAttempt, config.DAITA)
		if err != nil {
			return err
		}
		n.logger.Debug("exchanged preshared key with entry peer")
		config.EntryPeer.PresharedKey = entryPresharedKey
	}

	config.exitPeer().PresharedKey = exitPresharedKey
	if config.DAITA {
		n.logger.Trace("enabling constant packet size for entry peer")
		config.EntryPeer.ConstantPacketSize = true
	}
	config.PrivateKey = ephemeralPrivateKey

	err = n.tunnel.SetConfig(ctx, *config)
	if err != nil {
		return E.Cause(err, "reconfigure tunnel")
	}
	if config.DAITA {
		err = n.tunnel.StartDAITA(ctx)
		if err != nil {
			return E.Cause(err, "start daita")
		}
	}
	return nil
}

func (n *Negotiator) requestEphemeralPeer(ctx context.Context, config *Config, ephemeralPublicKey wgtypes.Key, retryAttempt int, daita bool) (*wgtypes.Key, error) {
	timeout := ExchangeTimeout(n.initialTimeout, retryAttempt)
	n.logger.Debug("requesting ephemeral peer, attempt ", retryAttempt, ", timeout ", timeout)
	exchangeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	presharedKey, err := n.exchanger.ExchangeEphemeralPeer(exchangeCtx, ExchangeRequest{
		Gateway:            config.IPv4Gateway,
		PublicKey:          config.PrivateKey.PublicKey(),
		EphemeralPublicKey: ephemeralPublicKey,
		QuantumResistant:   config.QuantumResistant,
		DAITA:              daita,
	})
	if err != nil {
		if errors.Is(exchangeCtx.Err(), context.DeadlineExceeded) {
			n.logger.Warn("timeout while negotiating ephemeral peer")
			return nil, ErrExchangeTimeout
		}
		return nil, E.Cause(err, "exchange ephemeral peer")
	}
	return presharedKey, nil
}

// ExchangeTimeout returns the allowance for one exchange attempt: the
// initial timeout doubled per retry, capped at MaxExchangeTimeout.
func ExchangeTimeout(initial time.Duration, retryAttempt int) time.Duration {
	if initial <= 0 {
		initial = InitialExchangeTimeout
	}
	return backoff(initial, MaxExchangeTimeout, retryAttempt)
}

// backoff multiplies value once per attempt, saturating at limit.
func backoff[T constraints.Integer](value, limit T, attempts int) T {
	for ; attempts > 0; attempts-- {
		if value > limit/exchangeTimeoutMultiplier {
			return limit
		}
		value *= exchangeTimeoutMultiplier
	}
	return min(value, limit)
}
