package reachability

import (
	"context"
	"sync"
	"time"

	"github.com/sagernet/sing-relay/adapter"
	"github.com/sagernet/sing-relay/common/dialer"
	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing-relay/relaylist"
	"github.com/sagernet/sing/common/atomic"
	"github.com/sagernet/sing/common/batch"
	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"
	"github.com/sagernet/sing/service"
	"github.com/sagernet/sing/service/pause"
)

var _ adapter.LifecycleService = (*Prober)(nil)

// Prober periodically measures TCP reachability of active relays on
// their obfuscation ports and records the results in a HistoryStorage.
type Prober struct {
	ctx          context.Context
	logger       log.ContextLogger
	listManager  adapter.ListManager
	history      *HistoryStorage
	dialer       N.Dialer
	enabled      bool
	interval     time.Duration
	timeout      time.Duration
	concurrency  int
	maxFailures  uint32
	pauseManager pause.Manager
	checking     atomic.Bool
	closeOnce    sync.Once
	closeChan    chan struct{}
}

func NewProber(
	ctx context.Context,
	logger log.ContextLogger,
	listManager adapter.ListManager,
	history *HistoryStorage,
	options option.ReachabilityOptions,
) (*Prober, error) {
	probeDialer, err := dialer.NewDefault(options)
	if err != nil {
		return nil, E.Cause(err, "create probe dialer")
	}
	var outboundDialer N.Dialer = probeDialer
	if options.NAT64Prefix != nil {
		outboundDialer = dialer.NewXLAT464Dialer(probeDialer, *options.NAT64Prefix)
	}

	interval := time.Duration(options.Interval)
	if interval == 0 {
		interval = C.DefaultProbeInterval
	}
	timeout := time.Duration(options.Timeout)
	if timeout == 0 {
		timeout = C.DefaultProbeTimeout
	}
	concurrency := options.Concurrency
	if concurrency == 0 {
		concurrency = 10
	}
	maxFailures := options.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	return &Prober{
		ctx:          ctx,
		logger:       logger,
		listManager:  listManager,
		history:      history,
		dialer:       outboundDialer,
		enabled:      options.Enabled,
		interval:     interval,
		timeout:      timeout,
		concurrency:  concurrency,
		maxFailures:  maxFailures,
		pauseManager: service.FromContext[pause.Manager](ctx),
		closeChan:    make(chan struct{}),
	}, nil
}

func (p *Prober) Name() string {
	return "reachability prober"
}

func (p *Prober) Start(stage adapter.StartStage) error {
	if stage != adapter.StartStatePostStart {
		return nil
	}
	if p.enabled {
		go p.probeLoop()
	}
	return nil
}

func (p *Prober) Close() error {
	p.closeOnce.Do(func() {
		close(p.closeChan)
	})
	return nil
}

func (p *Prober) History() *HistoryStorage {
	return p.history
}

func (p *Prober) probeLoop() {
	if p.interval == 0 {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run first sweep immediately
	p.sweep()

	for {
		p.pauseManager.WaitActive()
		select {
		case <-p.closeChan:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Prober) sweep() {
	index := p.listManager.Index()
	if index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout*time.Duration(len(index.Relays())))
	_, _ = p.ProbeAll(ctx, false)
	cancel()
}

// ProbeAll probes every active relay once and returns measured round trip
// times in milliseconds, keyed by hostname.
func (p *Prober) ProbeAll(ctx context.Context, force bool) (map[string]uint16, error) {
	if !force && p.checking.Swap(true) {
		return nil, E.New("already probing")
	}
	defer p.checking.Store(false)

	index := p.listManager.Index()
	if index == nil {
		return nil, E.New("relay list not loaded")
	}
	port := p.probePort()

	var resultAccess sync.Mutex
	result := make(map[string]uint16)
	b, _ := batch.New(ctx, batch.WithConcurrencyNum[any](p.concurrency))

	for _, relay := range index.Relays() {
		relay := relay
		if !relay.Active {
			p.history.DeleteProbeHistory(relay.Hostname)
			continue
		}

		b.Go(relay.Hostname, func() (any, error) {
			rtt, err := p.probe(ctx, relay, port)
			if err != nil {
				failures := p.recordFailure(relay)
				event := log.NewProbeEvent("failure", relay.Hostname).
					WithFailures(failures).
					WithError(err)
				if failures >= p.maxFailures {
					log.WithProbeEvent(p.logger, ctx, log.LevelWarn, event, "relay ", relay.Hostname, " unreachable after ", failures, " probes: ", err)
				} else {
					log.WithProbeEvent(p.logger, ctx, log.LevelDebug, event, "relay ", relay.Hostname, " probe failed: ", err)
				}
				return nil, nil
			}
			rttMs := uint16(rtt.Milliseconds())
			if rttMs == 0 {
				rttMs = 1
			}
			p.history.StoreProbeHistory(relay.Hostname, &adapter.ProbeHistory{
				Time: time.Now(),
				RTT:  rttMs,
			})
			event := log.NewProbeEvent("success", relay.Hostname).WithRTT(rtt)
			log.WithProbeEvent(p.logger, ctx, log.LevelDebug, event, "relay ", relay.Hostname, " probe: ", rttMs, "ms")
			resultAccess.Lock()
			result[relay.Hostname] = rttMs
			resultAccess.Unlock()
			return nil, nil
		})
	}

	b.Wait()
	return result, nil
}

func (p *Prober) probe(ctx context.Context, relay *relaylist.Relay, port uint16) (time.Duration, error) {
	address := relay.IPv4AddrIn
	if !address.IsValid() {
		address = relay.IPv6AddrIn
	}
	if !address.IsValid() {
		return 0, E.New("relay has no usable address")
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	conn, err := p.dialer.DialContext(probeCtx, N.NetworkTCP, M.SocksaddrFrom(address, port))
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	conn.Close()
	return rtt, nil
}

// probePort returns the TCP port probes target. Obfuscation listeners
// share the relay address, so their first port doubles as the probe
// target when present.
func (p *Prober) probePort() uint16 {
	list := p.listManager.List()
	if list != nil && len(list.Wireguard.UDP2TCPPorts) > 0 {
		return list.Wireguard.UDP2TCPPorts[0]
	}
	return 443
}

func (p *Prober) recordFailure(relay *relaylist.Relay) uint32 {
	previous := p.history.LoadProbeHistory(relay.Hostname)
	var failures uint32 = 1
	var lastRTT uint16
	if previous != nil {
		lastRTT = previous.RTT
		if previous.Failures < p.maxFailures {
			failures = previous.Failures + 1
		} else {
			failures = previous.Failures
		}
	}
	p.history.StoreProbeHistory(relay.Hostname, &adapter.ProbeHistory{
		Time:     time.Now(),
		RTT:      lastRTT,
		Failures: failures,
	})
	return failures
}
