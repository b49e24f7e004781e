// Package state holds the per-run bookkeeping shared by every handler: the
// dedup index of archived media ids, the set of ids currently being archived,
// and the metadata known for ids whose image has not been archived yet.
//
// One State is created per run and passed explicitly to each component.
package state

import (
	"sync"
	"time"
)

// Metadata is the best-known description of one generated image.
type Metadata struct {
	ID        string
	Prompt    string
	CreatedAt time.Time
}

type entry struct {
	meta     Metadata
	storedAt time.Time
}

// Stats is a point-in-time view of the bookkeeping sizes.
type Stats struct {
	Archived        int `json:"archived"`
	InFlight        int `json:"in_flight"`
	PendingMetadata int `json:"pending_metadata"`
}

// State is safe for concurrent use.
type State struct {
	mu       sync.Mutex
	archived *Index
	inFlight map[string]struct{}
	meta     map[string]entry
	now      func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// New creates an empty State.
func New(opts ...Option) *State {
	s := &State{
		archived: NewIndex(),
		inFlight: make(map[string]struct{}),
		meta:     make(map[string]entry),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Index returns the dedup index backing this State.
func (s *State) Index() *Index { return s.archived }

// Archived reports whether id has already been archived.
func (s *State) Archived(id string) bool {
	return s.archived.Has(id)
}

// Busy reports whether id is archived or currently being archived.
func (s *State) Busy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busyLocked(id)
}

func (s *State) busyLocked(id string) bool {
	if _, ok := s.inFlight[id]; ok {
		return true
	}
	return s.archived.Has(id)
}

// Begin marks id in flight. It returns false, and changes nothing, when id is
// already archived or in flight.
func (s *State) Begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyLocked(id) {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

// Release clears the in-flight mark without archiving, so a later response
// for the same id can try again.
func (s *State) Release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

// Complete records id as archived and clears its in-flight mark.
func (s *State) Complete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived.Add(id)
	delete(s.inFlight, id)
}

// Put stores metadata for m.ID. The latest write wins, except that an empty
// prompt never erases one that is already known.
func (s *State) Put(m Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(m)
}

func (s *State) putLocked(m Metadata) {
	if m.Prompt == "" {
		if prev, ok := s.meta[m.ID]; ok {
			m.Prompt = prev.meta.Prompt
		}
	}
	s.meta[m.ID] = entry{meta: m, storedAt: s.now()}
}

// PutUnlessBusy stores m like Put unless m.ID is archived or in flight, and
// reports whether it stored anything.
func (s *State) PutUnlessBusy(m Metadata) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busyLocked(m.ID) {
		return false
	}
	s.putLocked(m)
	return true
}

// Lookup returns the metadata stored for id without consuming it.
func (s *State) Lookup(id string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.meta[id]
	return e.meta, ok
}

// Take returns and deletes the metadata stored for id.
func (s *State) Take(id string) (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.meta[id]
	if ok {
		delete(s.meta, id)
	}
	return e.meta, ok
}

// Evict drops metadata stored longer than ttl ago and returns how many
// entries were removed. A non-positive ttl disables eviction.
func (s *State) Evict(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-ttl)
	n := 0
	for id, e := range s.meta {
		if e.storedAt.Before(cutoff) {
			delete(s.meta, id)
			n++
		}
	}
	return n
}

// Stats returns the current sizes.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Archived:        s.archived.Len(),
		InFlight:        len(s.inFlight),
		PendingMetadata: len(s.meta),
	}
}
