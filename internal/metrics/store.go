package metrics

import (
	"sort"
	"sync"
	"time"
)

const (
	LinkRealtime = "realtime"
	LinkCloud    = "cloud"
)

// LinkState is the connectivity indicator of one channel. Each channel
// is tracked independently so one failing never masks the other.
type LinkState struct {
	Connected bool      `json:"connected"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Failures  uint64    `json:"failures"`
}

type Store struct {
	mu       sync.RWMutex
	links    map[string]LinkState
	counters map[string]uint64
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		links:    make(map[string]LinkState),
		counters: make(map[string]uint64),
		now:      time.Now,
	}
}

// SetConnected records the state of a channel. Reports whether it changed.
func (s *Store) SetConnected(link string, connected bool) bool {
	if link == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.links[link]
	changed := !ok || st.Connected != connected
	st.Connected = connected
	if connected {
		st.LastError = ""
	}
	st.UpdatedAt = s.now().UTC()
	s.links[link] = st
	return changed
}

// Observe records the outcome of one remote call on link.
func (s *Store) Observe(link string, err error) bool {
	if err == nil {
		return s.SetConnected(link, true)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.links[link]
	changed := !ok || st.Connected
	st.Connected = false
	st.LastError = err.Error()
	st.Failures++
	st.UpdatedAt = s.now().UTC()
	s.links[link] = st
	return changed
}

func (s *Store) Link(link string) (LinkState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.links[link]
	return st, ok
}

func (s *Store) Links() map[string]LinkState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]LinkState, len(s.links))
	for k, v := range s.links {
		out[k] = v
	}
	return out
}

func (s *Store) Inc(name string) {
	s.Add(name, 1)
}

func (s *Store) Add(name string, delta uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += delta
}

func (s *Store) Counter(name string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

type Snapshot struct {
	Links    map[string]LinkState `json:"links"`
	Counters map[string]uint64    `json:"counters"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Links:    make(map[string]LinkState, len(s.links)),
		Counters: make(map[string]uint64, len(s.counters)),
	}
	for k, v := range s.links {
		snap.Links[k] = v
	}
	for k, v := range s.counters {
		snap.Counters[k] = v
	}
	return snap
}

// CounterNames is sorted for stable output.
func (s *Store) CounterNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.counters))
	for k := range s.counters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = make(map[string]LinkState)
	s.counters = make(map[string]uint64)
}
