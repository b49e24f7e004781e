package state

import "sync"

// Index is the set of media ids that already have a sidecar record on disk.
// It only grows during a run.
type Index struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{ids: make(map[string]struct{})}
}

// Add inserts id. It reports whether id was new.
func (x *Index) Add(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.ids[id]; ok {
		return false
	}
	x.ids[id] = struct{}{}
	return true
}

// Has reports whether id is present.
func (x *Index) Has(id string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.ids[id]
	return ok
}

// Len returns the number of ids.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}
