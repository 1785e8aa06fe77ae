// Package updater fetches relay list documents, deduplicates them by
// content digest and publishes the hierarchy built from each applied
// update.
package updater

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sagernet/fswatch"
	"github.com/sagernet/sing-relay/adapter"
	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing-relay/relaylist"
	"github.com/sagernet/sing/common/atomic"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json/badoption"
	"github.com/sagernet/sing/common/observable"
	"github.com/sagernet/sing/service"
	"github.com/sagernet/sing/service/pause"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/mod/semver"
	"golang.org/x/net/http2"
)

var _ adapter.ListManager = (*Updater)(nil)

type Updater struct {
	ctx          context.Context
	logger       log.ContextLogger
	httpClient   *http.Client
	url          string
	path         string
	overridePath string
	headers      badoption.HTTPHeader

	updateInterval time.Duration
	updateTimeout  time.Duration
	disableUpdate  bool

	cacheFile    adapter.CacheFile
	pauseManager pause.Manager
	geoReader    adapter.CountryReader

	current    atomic.TypedValue[*listState]
	updating   atomic.Bool
	subscriber *observable.Subscriber[adapter.ListUpdateEvent]
	observer   *observable.Observer[adapter.ListUpdateEvent]
	watcher    *fswatch.Watcher
	closeOnce  sync.Once
	closeChan  chan struct{}
}

// listState is one applied relay list. States are immutable and replaced
// wholesale, so readers take no locks.
type listState struct {
	list      *relaylist.List
	index     *relaylist.Index
	updatedAt time.Time
	etag      string
	digest    uint64
}

// applyMetadata describes where one candidate document came from.
type applyMetadata struct {
	jobID     string
	trigger   string
	source    string
	etag      string
	updatedAt time.Time
	persist   bool
}

func NewUpdater(ctx context.Context, logger log.ContextLogger, options option.RelayListOptions) (*Updater, error) {
	listURL := options.URL
	if listURL == "" {
		listURL = C.DefaultRelayListURL
	}
	updateInterval := time.Duration(options.UpdateInterval)
	if updateInterval == 0 {
		updateInterval = C.DefaultUpdateInterval
	}
	updateTimeout := time.Duration(options.UpdateTimeout)
	if updateTimeout == 0 {
		updateTimeout = C.DefaultUpdateTimeout
	}

	transport := &http.Transport{
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: C.TCPTimeout,
	}
	if options.BootstrapDNS != "" {
		resolver, err := newBootstrapResolver(options.BootstrapDNS)
		if err != nil {
			return nil, E.Cause(err, "parse bootstrap_dns")
		}
		transport.DialContext = resolver.DialContext
	}
	err := http2.ConfigureTransport(transport)
	if err != nil {
		return nil, E.Cause(err, "configure transport")
	}

	subscriber := observable.NewSubscriber[adapter.ListUpdateEvent](128)
	return &Updater{
		ctx:            ctx,
		logger:         logger,
		httpClient:     &http.Client{Transport: transport},
		url:            listURL,
		path:           options.Path,
		overridePath:   options.OverridePath,
		headers:        options.Headers,
		updateInterval: updateInterval,
		updateTimeout:  updateTimeout,
		disableUpdate:  options.DisableUpdate,
		subscriber:     subscriber,
		observer:       observable.NewObserver(subscriber, 64),
		closeChan:      make(chan struct{}),
	}, nil
}

func (u *Updater) Name() string {
	return "relay list updater"
}

func (u *Updater) Start(stage adapter.StartStage) error {
	switch stage {
	case adapter.StartStateStart:
		u.cacheFile = service.FromContext[adapter.CacheFile](u.ctx)
		u.pauseManager = service.FromContext[pause.Manager](u.ctx)
		u.geoReader = service.FromContext[adapter.CountryReader](u.ctx)
		if !u.loadCache() {
			u.loadSeed()
		}
	case adapter.StartStatePostStart:
		if u.overridePath != "" {
			err := u.startOverrideWatcher()
			if err != nil {
				return E.Cause(err, "watch ", u.overridePath)
			}
		}
		if !u.disableUpdate {
			go u.updateLoop()
		}
	}
	return nil
}

func (u *Updater) Close() error {
	u.closeOnce.Do(func() {
		close(u.closeChan)
	})
	if u.watcher != nil {
		u.watcher.Close()
	}
	return u.subscriber.Close()
}

func (u *Updater) List() *relaylist.List {
	state := u.current.Load()
	if state == nil {
		return nil
	}
	return state.list
}

func (u *Updater) Index() *relaylist.Index {
	state := u.current.Load()
	if state == nil {
		return nil
	}
	return state.index
}

func (u *Updater) UpdatedAt() time.Time {
	state := u.current.Load()
	if state == nil {
		return time.Time{}
	}
	return state.updatedAt
}

// Update fetches the list once, outside the periodic schedule.
func (u *Updater) Update(ctx context.Context) error {
	return u.fetchAndApply(ctx, C.UpdateTriggerManual)
}

func (u *Updater) Subscribe() (subscription observable.Subscription[adapter.ListUpdateEvent], done <-chan struct{}, err error) {
	return u.observer.Subscribe()
}

func (u *Updater) UnSubscribe(subscription observable.Subscription[adapter.ListUpdateEvent]) {
	u.observer.UnSubscribe(subscription)
}

func (u *Updater) loadCache() bool {
	if u.cacheFile == nil {
		return false
	}
	saved := u.cacheFile.LoadRelayList()
	if saved == nil {
		return false
	}
	err := u.applyList(u.ctx, saved.Content, applyMetadata{
		jobID:     newJobID(),
		trigger:   C.UpdateTriggerStartup,
		source:    "cache",
		etag:      saved.LastEtag,
		updatedAt: saved.LastUpdated,
	})
	if err != nil {
		u.logger.Warn("load cached relay list: ", err)
		return false
	}
	return true
}

func (u *Updater) loadSeed() {
	if u.path == "" {
		return
	}
	content, err := os.ReadFile(u.path)
	if err != nil {
		u.logger.Warn("load relay list from ", u.path, ": ", err)
		return
	}
	err = u.applyList(u.ctx, content, applyMetadata{
		jobID:   newJobID(),
		trigger: C.UpdateTriggerStartup,
		source:  u.path,
	})
	if err != nil {
		u.logger.Warn("load relay list from ", u.path, ": ", err)
	}
}

func (u *Updater) startOverrideWatcher() error {
	watcher, err := fswatch.NewWatcher(fswatch.Options{
		Path: []string{u.overridePath},
		Callback: func(path string) {
			err := u.reloadOverride()
			if err != nil {
				u.logger.Error(E.Cause(err, "reload override relay list"))
			}
		},
	})
	if err != nil {
		return err
	}
	err = watcher.Start()
	if err != nil {
		return err
	}
	u.watcher = watcher
	if _, statErr := os.Stat(u.overridePath); statErr == nil {
		err = u.reloadOverride()
		if err != nil {
			u.logger.Error(E.Cause(err, "load override relay list"))
		}
	}
	return nil
}

// reloadOverride applies the override file, or falls back to a remote
// fetch when the file went away.
func (u *Updater) reloadOverride() error {
	content, err := os.ReadFile(u.overridePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ctx, cancel := context.WithTimeout(u.ctx, u.updateTimeout)
			defer cancel()
			return u.fetchAndApply(ctx, C.UpdateTriggerWatch)
		}
		return err
	}
	return u.applyList(u.ctx, content, applyMetadata{
		jobID:   newJobID(),
		trigger: C.UpdateTriggerWatch,
		source:  u.overridePath,
	})
}

func (u *Updater) updateLoop() {
	state := u.current.Load()
	if state == nil || time.Since(state.updatedAt) >= u.updateInterval {
		trigger := C.UpdateTriggerStartup
		if state != nil {
			trigger = C.UpdateTriggerPeriodic
		}
		ctx, cancel := context.WithTimeout(u.ctx, u.updateTimeout)
		err := u.fetchAndApply(ctx, trigger)
		cancel()
		if err != nil {
			u.logger.Error(E.Cause(err, "initial relay list update"))
		}
	}

	timer := time.NewTimer(u.jitteredInterval())
	defer timer.Stop()
	for {
		u.pauseManager.WaitActive()
		select {
		case <-u.closeChan:
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(u.ctx, u.updateTimeout)
			err := u.fetchAndApply(ctx, C.UpdateTriggerPeriodic)
			cancel()
			if err != nil {
				u.logger.Error(E.Cause(err, "update relay list"))
			}
			timer.Reset(u.jitteredInterval())
		}
	}
}

// jitteredInterval stretches the base interval by up to 1/16 of itself.
func (u *Updater) jitteredInterval() time.Duration {
	return u.updateInterval + time.Duration(rand.Int63n(int64(u.updateInterval)/16+1))
}

func (u *Updater) fetchAndApply(ctx context.Context, trigger string) error {
	if u.updating.Swap(true) {
		return E.New("already updating")
	}
	defer u.updating.Store(false)

	jobID := newJobID()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return E.Cause(err, "create request")
	}
	for key, values := range u.headers.Build() {
		request.Header[key] = values
	}
	request.Header.Set("User-Agent", "sing-relay/"+C.Version)
	state := u.current.Load()
	if state != nil && state.etag != "" {
		request.Header.Set("If-None-Match", state.etag)
	}

	response, err := u.httpClient.Do(request)
	if err != nil {
		u.logFailure(ctx, jobID, trigger, u.url, err)
		return E.Cause(err, "fetch relay list")
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		event := log.NewListUpdateEvent("unchanged", trigger).
			WithJobID(jobID).
			WithSource(u.url)
		log.WithListUpdateEvent(u.logger, ctx, log.LevelDebug, event, "relay list not modified")
		u.refreshState(response.Header.Get("ETag"))
		return nil
	default:
		err = E.New("unexpected status: ", response.Status)
		u.logFailure(ctx, jobID, trigger, u.url, err)
		return err
	}

	content, err := io.ReadAll(response.Body)
	if err != nil {
		u.logFailure(ctx, jobID, trigger, u.url, err)
		return E.Cause(err, "read relay list")
	}

	return u.applyList(ctx, content, applyMetadata{
		jobID:   jobID,
		trigger: trigger,
		source:  u.url,
		etag:    response.Header.Get("ETag"),
		persist: true,
	})
}

func (u *Updater) applyList(ctx context.Context, content []byte, metadata applyMetadata) error {
	digest := relaylist.Digest(content)
	if state := u.current.Load(); state != nil && state.digest == digest {
		event := log.NewListUpdateEvent("unchanged", metadata.trigger).
			WithJobID(metadata.jobID).
			WithSource(metadata.source).
			WithDigest(digest)
		log.WithListUpdateEvent(u.logger, ctx, log.LevelDebug, event, "relay list unchanged")
		u.refreshState(metadata.etag)
		return nil
	}

	list, err := relaylist.Parse(content)
	if err != nil {
		u.logFailure(ctx, metadata.jobID, metadata.trigger, metadata.source, err)
		return err
	}
	u.checkMinVersion(list)
	u.auditCountries(list)

	index := relaylist.NewIndex(list)
	updatedAt := metadata.updatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	u.current.Store(&listState{
		list:      list,
		index:     index,
		updatedAt: updatedAt,
		etag:      metadata.etag,
		digest:    digest,
	})

	if metadata.persist && u.cacheFile != nil {
		err = u.cacheFile.StoreRelayList(&adapter.SavedRelayList{
			LastUpdated: updatedAt,
			LastEtag:    metadata.etag,
			Digest:      digest,
			Content:     content,
		})
		if err != nil {
			u.logger.Warn("save relay list to cache: ", err)
		}
	}

	countries, cities, relays := index.Stats()
	u.subscriber.Emit(adapter.ListUpdateEvent{
		JobID:     metadata.jobID,
		Trigger:   metadata.trigger,
		Source:    metadata.source,
		Digest:    digest,
		Countries: countries,
		Cities:    cities,
		Relays:    relays,
		UpdatedAt: updatedAt,
		Index:     index,
	})

	event := log.NewListUpdateEvent("updated", metadata.trigger).
		WithJobID(metadata.jobID).
		WithSource(metadata.source).
		WithDigest(digest).
		WithCounts(countries, cities, relays)
	log.WithListUpdateEvent(u.logger, ctx, log.LevelInfo, event,
		"relay list updated: ", countries, " countries, ", cities, " cities, ", relays, " relays")
	return nil
}

// refreshState carries a new validator over to the current state without
// rebuilding the hierarchy.
func (u *Updater) refreshState(etag string) {
	state := u.current.Load()
	if state == nil || etag == "" || etag == state.etag {
		return
	}
	refreshed := *state
	refreshed.etag = etag
	u.current.Store(&refreshed)
}

// auditCountries flags relays whose advertised country disagrees with
// the GeoIP database. The document is applied unmodified either way.
func (u *Updater) auditCountries(list *relaylist.List) {
	if u.geoReader == nil {
		return
	}
	for _, country := range list.Countries {
		for _, city := range country.Cities {
			for _, relay := range city.Relays {
				if !relay.IPv4AddrIn.IsValid() {
					continue
				}
				located := u.geoReader.Lookup(relay.IPv4AddrIn)
				if located != "" && located != country.Code {
					u.logger.Debug("relay ", relay.Hostname, " advertises country ", country.Code,
						", GeoIP places ", relay.IPv4AddrIn, " in ", located)
				}
			}
		}
	}
}

func (u *Updater) checkMinVersion(list *relaylist.List) {
	if list.MinVersion == "" {
		return
	}
	minimum := list.MinVersion
	if !strings.HasPrefix(minimum, "v") {
		minimum = "v" + minimum
	}
	current := C.Version
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	if semver.IsValid(minimum) && semver.IsValid(current) && semver.Compare(current, minimum) < 0 {
		u.logger.Warn("relay list requires version ", list.MinVersion, " or newer, current version is ", C.Version)
	}
}

func (u *Updater) logFailure(ctx context.Context, jobID string, trigger string, source string, err error) {
	event := log.NewListUpdateEvent("failed", trigger).
		WithJobID(jobID).
		WithSource(source).
		WithError(err)
	log.WithListUpdateEvent(u.logger, ctx, log.LevelError, event, "update relay list: ", err)
}

func newJobID() string {
	return uuid.Must(uuid.NewV4()).String()
}
