package reachability

import (
	"sync"

	"github.com/sagernet/sing-relay/adapter"
)

// HistoryStorage keeps the most recent probe result per relay hostname.
// It is shared between the prober, the selector and the API.
type HistoryStorage struct {
	access     sync.RWMutex
	history    map[string]*adapter.ProbeHistory
	updateHook chan<- struct{}
}

func NewHistoryStorage() *HistoryStorage {
	return &HistoryStorage{
		history: make(map[string]*adapter.ProbeHistory),
	}
}

func (s *HistoryStorage) SetHook(hook chan<- struct{}) {
	s.updateHook = hook
}

func (s *HistoryStorage) LoadProbeHistory(hostname string) *adapter.ProbeHistory {
	if s == nil {
		return nil
	}
	s.access.RLock()
	defer s.access.RUnlock()
	return s.history[hostname]
}

func (s *HistoryStorage) StoreProbeHistory(hostname string, history *adapter.ProbeHistory) {
	s.access.Lock()
	s.history[hostname] = history
	s.access.Unlock()
	s.notifyUpdated()
}

func (s *HistoryStorage) DeleteProbeHistory(hostname string) {
	s.access.Lock()
	delete(s.history, hostname)
	s.access.Unlock()
	s.notifyUpdated()
}

// Reachable reports whether the relay should be considered dialable.
// Relays without history have not been probed yet and pass the check.
func (s *HistoryStorage) Reachable(hostname string) bool {
	if s == nil {
		return true
	}
	history := s.LoadProbeHistory(hostname)
	if history == nil {
		return true
	}
	return history.Reachable()
}

// Snapshot returns a copy of all stored probe results.
func (s *HistoryStorage) Snapshot() map[string]adapter.ProbeHistory {
	if s == nil {
		return nil
	}
	s.access.RLock()
	defer s.access.RUnlock()
	snapshot := make(map[string]adapter.ProbeHistory, len(s.history))
	for hostname, history := range s.history {
		snapshot[hostname] = *history
	}
	return snapshot
}

func (s *HistoryStorage) notifyUpdated() {
	updateHook := s.updateHook
	if updateHook != nil {
		select {
		case updateHook <- struct{}{}:
		default:
		}
	}
}

func (s *HistoryStorage) Close() error {
	s.updateHook = nil
	return nil
}
