package log

import (
	"net/netip"
	"strconv"
	"time"

	"github.com/sagernet/sing-relay/relaylist"
	M "github.com/sagernet/sing/common/metadata"
)

// EventType represents the type of structured log event
type EventType string

const (
	EventTypeResolve    EventType = "resolve"
	EventTypeSelection  EventType = "selection"
	EventTypeListUpdate EventType = "list_update"
	EventTypeProbe      EventType = "probe"
)

// StructuredEvent represents structured log data
type StructuredEvent struct {
	Type EventType              `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// ResolveEvent represents a location constraint lookup against the index
type ResolveEvent struct {
	Action   string `json:"action"` // "hit", "miss" or "any"
	Kind     string `json:"kind,omitempty"`
	Country  string `json:"country,omitempty"`
	City     string `json:"city,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Matched  string `json:"matched,omitempty"`
	Source   string `json:"source,omitempty"`
}

// SelectionEvent represents a relay selection
type SelectionEvent struct {
	Action   string `json:"action"` // "select", "fallback" or "error"
	Strategy string `json:"strategy,omitempty"`
	Key      string `json:"key,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Relay    string `json:"relay,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	RTTMs    int64  `json:"rtt_ms,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ListUpdateEvent represents a relay list refresh
type ListUpdateEvent struct {
	Action    string `json:"action"` // "updated", "unchanged" or "failed"
	Trigger   string `json:"trigger,omitempty"`
	Source    string `json:"source,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Countries int    `json:"countries,omitempty"`
	Cities    int    `json:"cities,omitempty"`
	Relays    int    `json:"relays,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProbeEvent represents a single reachability probe
type ProbeEvent struct {
	Action   string `json:"action"` // "success" or "failure"
	Hostname string `json:"hostname"`
	Address  string `json:"address,omitempty"`
	RTTMs    int64  `json:"rtt_ms,omitempty"`
	Failures uint32 `json:"failures,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewResolveEvent creates a structured resolve event
func NewResolveEvent(action string) *ResolveEvent {
	return &ResolveEvent{
		Action: action,
	}
}

// NewSelectionEvent creates a structured selection event
func NewSelectionEvent(action, strategy string) *SelectionEvent {
	return &SelectionEvent{
		Action:   action,
		Strategy: strategy,
	}
}

// NewListUpdateEvent creates a structured list update event
func NewListUpdateEvent(action, trigger string) *ListUpdateEvent {
	return &ListUpdateEvent{
		Action:  action,
		Trigger: trigger,
	}
}

// NewProbeEvent creates a structured probe event
func NewProbeEvent(action, hostname string) *ProbeEvent {
	return &ProbeEvent{
		Action:   action,
		Hostname: hostname,
	}
}

// WithConstraint sets the queried location constraint
func (e *ResolveEvent) WithConstraint(constraint relaylist.LocationConstraint) *ResolveEvent {
	location, loaded := constraint.Value()
	if !loaded {
		e.Kind = "any"
		return e
	}
	e.Kind = location.Kind.String()
	e.Country = location.Country
	e.City = location.City
	e.Hostname = location.Hostname
	return e
}

// WithMatched sets the matched item
func (e *ResolveEvent) WithMatched(item relaylist.Item) *ResolveEvent {
	if item != nil {
		e.Matched = item.Location().String()
	}
	return e
}

// WithSource sets the source address of the query
func (e *ResolveEvent) WithSource(addr M.Socksaddr) *ResolveEvent {
	if addr.IsValid() {
		e.Source = addr.String()
	}
	return e
}

// WithKey sets the sticky selection key
func (e *SelectionEvent) WithKey(key string) *SelectionEvent {
	if key != "" {
		e.Key = key
	}
	return e
}

// WithAttempt sets the selection attempt counter
func (e *SelectionEvent) WithAttempt(attempt int) *SelectionEvent {
	e.Attempt = attempt
	return e
}

// WithRelay sets the selected relay and endpoint
func (e *SelectionEvent) WithRelay(hostname string, endpoint netip.AddrPort) *SelectionEvent {
	e.Relay = hostname
	if endpoint.IsValid() {
		e.Endpoint = endpoint.String()
	}
	return e
}

// WithRTT sets the last known round trip time of the selected relay
func (e *SelectionEvent) WithRTT(rtt time.Duration) *SelectionEvent {
	if rtt > 0 {
		e.RTTMs = rtt.Milliseconds()
	}
	return e
}

// WithError sets the error
func (e *SelectionEvent) WithError(err error) *SelectionEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithSource sets the list source (URL or path)
func (e *ListUpdateEvent) WithSource(source string) *ListUpdateEvent {
	if source != "" {
		e.Source = source
	}
	return e
}

// WithJobID sets the update job identifier
func (e *ListUpdateEvent) WithJobID(jobID string) *ListUpdateEvent {
	if jobID != "" {
		e.JobID = jobID
	}
	return e
}

// WithDigest sets the content digest of the fetched list
func (e *ListUpdateEvent) WithDigest(digest uint64) *ListUpdateEvent {
	if digest != 0 {
		e.Digest = strconv.FormatUint(digest, 16)
	}
	return e
}

// WithCounts sets the index statistics
func (e *ListUpdateEvent) WithCounts(countries, cities, relays int) *ListUpdateEvent {
	e.Countries = countries
	e.Cities = cities
	e.Relays = relays
	return e
}

// WithError sets the error
func (e *ListUpdateEvent) WithError(err error) *ListUpdateEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithAddress sets the probed endpoint address
func (e *ProbeEvent) WithAddress(address netip.AddrPort) *ProbeEvent {
	if address.IsValid() {
		e.Address = address.String()
	}
	return e
}

// WithRTT sets the measured round trip time
func (e *ProbeEvent) WithRTT(rtt time.Duration) *ProbeEvent {
	if rtt > 0 {
		e.RTTMs = rtt.Milliseconds()
	}
	return e
}

// WithFailures sets the consecutive failure counter
func (e *ProbeEvent) WithFailures(failures uint32) *ProbeEvent {
	e.Failures = failures
	return e
}

// WithError sets the error
func (e *ProbeEvent) WithError(err error) *ProbeEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// ToMap converts ResolveEvent to map
func (e *ResolveEvent) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	m["action"] = e.Action
	if e.Kind != "" {
		m["kind"] = e.Kind
	}
	if e.Country != "" {
		m["country"] = e.Country
	}
	if e.City != "" {
		m["city"] = e.City
	}
	if e.Hostname != "" {
		m["hostname"] = e.Hostname
	}
	if e.Matched != "" {
		m["matched"] = e.Matched
	}
	if e.Source != "" {
		m["source"] = e.Source
	}
	return m
}

// ToMap converts SelectionEvent to map
func (e *SelectionEvent) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	m["action"] = e.Action
	if e.Strategy != "" {
		m["strategy"] = e.Strategy
	}
	if e.Key != "" {
		m["key"] = e.Key
	}
	if e.Attempt > 0 {
		m["attempt"] = e.Attempt
	}
	if e.Relay != "" {
		m["relay"] = e.Relay
	}
	if e.Endpoint != "" {
		m["endpoint"] = e.Endpoint
	}
	if e.RTTMs > 0 {
		m["rtt_ms"] = e.RTTMs
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// ToMap converts ListUpdateEvent to map
func (e *ListUpdateEvent) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	m["action"] = e.Action
	if e.Trigger != "" {
		m["trigger"] = e.Trigger
	}
	if e.Source != "" {
		m["source"] = e.Source
	}
	if e.JobID != "" {
		m["job_id"] = e.JobID
	}
	if e.Digest != "" {
		m["digest"] = e.Digest
	}
	if e.Relays > 0 {
		m["countries"] = e.Countries
		m["cities"] = e.Cities
		m["relays"] = e.Relays
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// ToMap converts ProbeEvent to map
func (e *ProbeEvent) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	m["action"] = e.Action
	m["hostname"] = e.Hostname
	if e.Address != "" {
		m["address"] = e.Address
	}
	if e.RTTMs > 0 {
		m["rtt_ms"] = e.RTTMs
	}
	if e.Failures > 0 {
		m["failures"] = e.Failures
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}
