package calls

import (
	"sort"
	"sync"
	"time"
)

// Store holds the live call table.
//
// Get, Put, Delete, Bury and Buried must be called with the call's lock held
// (see Lock). Locks are per call id so unrelated calls never serialize on each other.
//
// A buried call id has seen a terminal event. It stays buried for a while so a
// ringing that is delivered late, or is still in flight, is not stored.
type Store interface {
	Lock(callID string) (unlock func())
	Get(callID string) (*CallState, bool)
	Put(s *CallState) bool
	Delete(callID string)
	Bury(callID string, at time.Time)
	Buried(callID string, now time.Time) bool
	Snapshots(now time.Time) []Snapshot
	Len() int
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// DefaultTombstoneTTL is how long a terminal event shadows its call id.
const DefaultTombstoneTTL = 10 * time.Minute

// MemoryStore is the in-process Store.
type MemoryStore struct {
	TombstoneTTL time.Duration

	mu        sync.RWMutex
	calls     map[string]*CallState
	graves    map[string]time.Time
	lastSweep time.Time

	lmu   sync.Mutex
	locks map[string]*keyLock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		TombstoneTTL: DefaultTombstoneTTL,
		calls:        make(map[string]*CallState),
		graves:       make(map[string]time.Time),
		locks:        make(map[string]*keyLock),
	}
}

func (s *MemoryStore) Lock(callID string) func() {
	s.lmu.Lock()
	l, ok := s.locks[callID]
	if !ok {
		l = &keyLock{}
		s.locks[callID] = l
	}
	l.refs++
	s.lmu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.lmu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, callID)
		}
		s.lmu.Unlock()
	}
}

func (s *MemoryStore) Get(callID string) (*CallState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	return c, ok
}

// Put inserts st and reports false if the call id is already live.
func (s *MemoryStore) Put(st *CallState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[st.CallID]; exists {
		return false
	}
	s.calls[st.CallID] = st
	return true
}

func (s *MemoryStore) Delete(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
}

func (s *MemoryStore) Bury(callID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graves[callID] = at
	if at.Sub(s.lastSweep) < s.TombstoneTTL {
		return
	}
	for id, t := range s.graves {
		if at.Sub(t) >= s.TombstoneTTL {
			delete(s.graves, id)
		}
	}
	s.lastSweep = at
}

func (s *MemoryStore) Buried(callID string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.graves[callID]
	return ok && now.Sub(t) < s.TombstoneTTL
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// Snapshots copies every live call under its own lock, oldest first.
func (s *MemoryStore) Snapshots(now time.Time) []Snapshot {
	s.mu.RLock()
	ids := make([]string, 0, len(s.calls))
	for id := range s.calls {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		unlock := s.Lock(id)
		if c, ok := s.Get(id); ok {
			out = append(out, c.snapshot(now))
		}
		unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
