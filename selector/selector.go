// Package selector picks concrete relay endpoints from the current
// location hierarchy, applying the configured filters and balancing
// strategy.
package selector

import (
	"context"
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/sagernet/sing-relay/adapter"
	"github.com/sagernet/sing-relay/common/hash"
	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing-relay/reachability"
	"github.com/sagernet/sing-relay/relaylist"
	"github.com/sagernet/sing/common/atomic"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/observable"
	"github.com/sagernet/sing/service"

	"go4.org/netipx"
)

var _ adapter.RelaySelector = (*Selector)(nil)

// selectedTag keys the persisted selection in the cache file.
const selectedTag = "default"

type Selector struct {
	ctx         context.Context
	logger      log.ContextLogger
	listManager adapter.ListManager
	history     *reachability.HistoryStorage
	cacheFile   adapter.CacheFile

	strategy        string
	location        relaylist.LocationConstraint
	ownership       *bool
	providers       map[string]bool
	includeInactive bool
	port            uint16
	exclude         *netipx.IPSet
	virtualNodes    int
	salt            string
	onEmptyKey      string

	pool             atomic.TypedValue[*selectionPool]
	lastSelected     atomic.TypedValue[string]
	subscription     observable.Subscription[adapter.ListUpdateEvent]
	subscriptionDone <-chan struct{}
	closeOnce        sync.Once
	closeChan        chan struct{}
}

// selectionPool is one immutable filtered snapshot of the hierarchy. Pools
// are replaced wholesale when the relay list changes.
type selectionPool struct {
	relays     []*relaylist.Relay
	ring       *hash.Ring
	portRanges []relaylist.PortRange
}

func NewSelector(
	ctx context.Context,
	logger log.ContextLogger,
	listManager adapter.ListManager,
	history *reachability.HistoryStorage,
	options option.SelectorOptions,
) (*Selector, error) {
	strategy := options.Strategy
	if strategy == "" {
		strategy = C.StrategyRandom
	}
	if strategy != C.StrategyRandom && strategy != C.StrategyConsistentHash {
		return nil, E.New("invalid strategy: ", strategy)
	}

	location, err := locationConstraint(options.Location)
	if err != nil {
		return nil, err
	}

	var providers map[string]bool
	if len(options.Providers) > 0 {
		providers = make(map[string]bool, len(options.Providers))
		for _, provider := range options.Providers {
			providers[provider] = true
		}
	}

	var exclude *netipx.IPSet
	if len(options.ExcludeEndpoints) > 0 {
		var builder netipx.IPSetBuilder
		for _, prefix := range options.ExcludeEndpoints {
			builder.AddPrefix(prefix)
		}
		exclude, err = builder.IPSet()
		if err != nil {
			return nil, E.Cause(err, "build endpoint exclusions")
		}
	}

	virtualNodes := 10
	onEmptyKey := "random"
	salt := ""
	if options.Sticky != nil {
		if options.Sticky.VirtualNodes > 0 {
			virtualNodes = options.Sticky.VirtualNodes
		}
		if options.Sticky.OnEmptyKey != "" {
			onEmptyKey = options.Sticky.OnEmptyKey
			if onEmptyKey != "random" && onEmptyKey != "hash_empty" {
				return nil, E.New("invalid on_empty_key: ", onEmptyKey)
			}
		}
		salt = options.Sticky.Salt
	}

	return &Selector{
		ctx:             ctx,
		logger:          logger,
		listManager:     listManager,
		history:         history,
		strategy:        strategy,
		location:        location,
		ownership:       options.Ownership,
		providers:       providers,
		includeInactive: options.IncludeInactive,
		port:            options.Port,
		exclude:         exclude,
		virtualNodes:    virtualNodes,
		salt:            salt,
		onEmptyKey:      onEmptyKey,
		closeChan:       make(chan struct{}),
	}, nil
}

func locationConstraint(options *option.LocationOptions) (relaylist.LocationConstraint, error) {
	if options == nil {
		return relaylist.Any[relaylist.Location](), nil
	}
	switch {
	case options.Hostname != "":
		if options.Country == "" || options.City == "" {
			return relaylist.LocationConstraint{}, E.New("location hostname requires country and city")
		}
		return relaylist.Only(relaylist.HostnameLocation(options.Country, options.City, options.Hostname)), nil
	case options.City != "":
		if options.Country == "" {
			return relaylist.LocationConstraint{}, E.New("location city requires country")
		}
		return relaylist.Only(relaylist.CityLocation(options.Country, options.City)), nil
	case options.Country != "":
		return relaylist.Only(relaylist.CountryLocation(options.Country)), nil
	default:
		return relaylist.Any[relaylist.Location](), nil
	}
}

func (s *Selector) Name() string {
	return "selector"
}

func (s *Selector) Start(stage adapter.StartStage) error {
	switch stage {
	case adapter.StartStateStart:
		s.cacheFile = service.FromContext[adapter.CacheFile](s.ctx)
		if s.cacheFile != nil && s.cacheFile.StoreSelectedEnabled() {
			if saved := s.cacheFile.LoadSelected(selectedTag); saved != "" {
				s.lastSelected.Store(saved)
			}
		}
	case adapter.StartStatePostStart:
		subscription, done, err := s.listManager.Subscribe()
		if err == nil {
			s.subscription = subscription
			s.subscriptionDone = done
			go s.watchUpdates()
		}
		s.rebuild(s.listManager.Index())
	}
	return nil
}

func (s *Selector) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeChan)
	})
	return nil
}

func (s *Selector) watchUpdates() {
	defer s.listManager.UnSubscribe(s.subscription)
	for {
		select {
		case <-s.closeChan:
			return
		case <-s.subscriptionDone:
			return
		case event, loaded := <-s.subscription:
			if !loaded {
				return
			}
			s.rebuild(event.Index)
		}
	}
}

func (s *Selector) rebuild(index *relaylist.Index) {
	if index == nil {
		index = s.listManager.Index()
	}
	pool := &selectionPool{}
	if index != nil {
		pool.relays = s.filterRelays(index)
		if s.strategy == C.StrategyConsistentHash {
			hostnames := make([]string, 0, len(pool.relays))
			for _, relay := range pool.relays {
				hostnames = append(hostnames, relay.Hostname)
			}
			pool.ring = hash.NewRing(hostnames, s.virtualNodes)
		}
	}
	if list := s.listManager.List(); list != nil {
		pool.portRanges = list.Wireguard.PortRanges
	}
	s.pool.Store(pool)
	s.logger.Debug("selection pool rebuilt: ", len(pool.relays), " relays")
}

// filterRelays narrows the hierarchy to relays the configured filters
// accept. A country scope only admits relays flagged for country wide
// selection; city and hostname scopes take their relays as-is.
func (s *Selector) filterRelays(index *relaylist.Index) []*relaylist.Relay {
	var scope []*relaylist.Relay
	if item, found := index.FindByLocation(s.location); found {
		switch node := item.(type) {
		case *relaylist.Country:
			for _, city := range node.Cities {
				for _, relay := range city.Relays {
					if relay.IncludeInCountry {
						scope = append(scope, relay)
					}
				}
			}
		case *relaylist.City:
			scope = node.Relays
		case *relaylist.Relay:
			scope = []*relaylist.Relay{node}
		}
	} else if s.location.IsAny() {
		scope = index.Relays()
	} else {
		return nil
	}

	result := make([]*relaylist.Relay, 0, len(scope))
	for _, relay := range scope {
		if !relay.Active && !s.includeInactive {
			continue
		}
		if s.ownership != nil && relay.Owned != *s.ownership {
			continue
		}
		if s.providers != nil && !s.providers[relay.Provider] {
			continue
		}
		if s.excludedEndpoint(relay) {
			continue
		}
		result = append(result, relay)
	}
	return result
}

func (s *Selector) excludedEndpoint(relay *relaylist.Relay) bool {
	if s.exclude == nil {
		return false
	}
	if relay.IPv4AddrIn.IsValid() && s.exclude.Contains(relay.IPv4AddrIn) {
		return true
	}
	if relay.IPv6AddrIn.IsValid() && s.exclude.Contains(relay.IPv6AddrIn) {
		return true
	}
	return false
}

func (s *Selector) Select(ctx context.Context, key string, attempt int) (*adapter.Selection, error) {
	pool := s.pool.Load()
	if pool == nil || len(pool.relays) == 0 {
		return nil, s.selectError(ctx, key, attempt, E.New("no relays match the selection filters"))
	}

	// Prefer relays that passed their last probe, but never refuse to pick
	// just because every candidate looks down.
	candidates := pool.relays
	if reachable := s.reachableRelays(candidates); len(reachable) > 0 {
		candidates = reachable
	}

	var relay *relaylist.Relay
	action := "select"
	switch s.strategy {
	case C.StrategyRandom:
		relay = pickWeighted(candidates)
	case C.StrategyConsistentHash:
		if key == "" && s.onEmptyKey == "random" {
			relay = pickWeighted(candidates)
		} else {
			relay = stickyPick(pool.ring, candidates, hash.BuildKey(key, s.salt, attempt))
			if relay == nil {
				relay = pickWeighted(candidates)
				action = "fallback"
			}
		}
	default:
		return nil, s.selectError(ctx, key, attempt, E.New("unknown strategy: ", s.strategy))
	}

	endpoint, err := s.pickEndpoint(pool, relay, attempt)
	if err != nil {
		return nil, s.selectError(ctx, key, attempt, E.Cause(err, "relay ", relay.Hostname))
	}

	s.lastSelected.Store(relay.Hostname)
	if s.cacheFile != nil && s.cacheFile.StoreSelectedEnabled() {
		err = s.cacheFile.StoreSelected(selectedTag, relay.Hostname)
		if err != nil {
			s.logger.Warn("store selected relay: ", err)
		}
	}

	event := log.NewSelectionEvent(action, s.strategy).
		WithKey(key).
		WithAttempt(attempt).
		WithRelay(relay.Hostname, endpoint)
	if history := s.history.LoadProbeHistory(relay.Hostname); history != nil && history.RTT > 0 {
		event = event.WithRTT(time.Duration(history.RTT) * time.Millisecond)
	}
	log.WithSelectionEvent(s.logger, ctx, log.LevelDebug, event, "selected relay ", relay.Hostname, " at ", endpoint)

	return &adapter.Selection{
		Relay:    relay,
		Endpoint: endpoint,
		Strategy: s.strategy,
	}, nil
}

func (s *Selector) selectError(ctx context.Context, key string, attempt int, err error) error {
	event := log.NewSelectionEvent("error", s.strategy).
		WithKey(key).
		WithAttempt(attempt).
		WithError(err)
	log.WithSelectionEvent(s.logger, ctx, log.LevelError, event, "select relay: ", err)
	return err
}

func (s *Selector) reachableRelays(relays []*relaylist.Relay) []*relaylist.Relay {
	if s.history == nil {
		return relays
	}
	result := make([]*relaylist.Relay, 0, len(relays))
	for _, relay := range relays {
		if s.history.Reachable(relay.Hostname) {
			result = append(result, relay)
		}
	}
	return result
}

// pickWeighted draws one relay with probability proportional to its
// weight. Weightless pools degrade to a uniform draw.
func pickWeighted(relays []*relaylist.Relay) *relaylist.Relay {
	if len(relays) == 0 {
		return nil
	}
	var total uint64
	for _, relay := range relays {
		total += relay.Weight
	}
	if total == 0 {
		return relays[rand.Intn(len(relays))]
	}
	target := rand.Uint64() % total
	for _, relay := range relays {
		if relay.Weight > target {
			return relay
		}
		target -= relay.Weight
	}
	return relays[len(relays)-1]
}

func stickyPick(ring *hash.Ring, candidates []*relaylist.Relay, key string) *relaylist.Relay {
	hostname, ok := ring.Get(key)
	if !ok {
		return nil
	}
	for _, relay := range candidates {
		if relay.Hostname == hostname {
			return relay
		}
	}
	// The owner was filtered out after the ring was built, or failed its
	// last probe.
	return nil
}

func (s *Selector) pickEndpoint(pool *selectionPool, relay *relaylist.Relay, attempt int) (netip.AddrPort, error) {
	address := relay.IPv4AddrIn
	if !address.IsValid() {
		address = relay.IPv6AddrIn
	}
	if !address.IsValid() {
		return netip.AddrPort{}, E.New("relay has no usable address")
	}
	port, err := pickPort(pool.portRanges, s.port, attempt)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(address, port), nil
}

func pickPort(ranges []relaylist.PortRange, fixed uint16, attempt int) (uint16, error) {
	if fixed != 0 {
		for _, portRange := range ranges {
			if fixed >= portRange.First && fixed <= portRange.Last {
				return fixed, nil
			}
		}
		return 0, E.New("port ", fixed, " is outside the relay port ranges")
	}
	var total uint32
	for _, portRange := range ranges {
		total += portRange.Size()
	}
	if total == 0 {
		return 0, E.New("relay list has no usable port ranges")
	}
	var n uint32
	if attempt > 0 {
		// Retries walk the port space in list order, starting over from the
		// first range.
		n = uint32(attempt-1) % total
	} else {
		n = rand.Uint32() % total
	}
	for _, portRange := range ranges {
		size := portRange.Size()
		if n < size {
			return portRange.First + uint16(n), nil
		}
		n -= size
	}
	return 0, E.New("relay list has no usable port ranges")
}

func (s *Selector) Resolve(constraint relaylist.LocationConstraint) (relaylist.Item, bool) {
	index := s.listManager.Index()
	if index == nil {
		return nil, false
	}
	return index.FindByLocation(constraint)
}

func (s *Selector) LastSelected() string {
	return s.lastSelected.Load()
}
