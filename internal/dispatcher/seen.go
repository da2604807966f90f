package dispatcher

import (
	"sync"

	"github.com/leadmify/agent/internal/controlplane"
)

type seenKey struct {
	queue controlplane.Queue
	id    controlplane.ID
}

// SeenSet remembers dispatched request ids per queue. It is cleared
// periodically, so a request that stays pending past a clear can be
// dispatched again.
type SeenSet struct {
	mu  sync.Mutex
	ids map[seenKey]struct{}
}

// NewSeenSet creates an empty set
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[seenKey]struct{})}
}

// Add marks the request seen. It returns false if it already was.
func (s *SeenSet) Add(q controlplane.Queue, id controlplane.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seenKey{q, id}
	if _, ok := s.ids[key]; ok {
		return false
	}
	s.ids[key] = struct{}{}
	return true
}

// Forget removes the request from the set
func (s *SeenSet) Forget(q controlplane.Queue, id controlplane.ID) {
	s.mu.Lock()
	delete(s.ids, seenKey{q, id})
	s.mu.Unlock()
}

// Clear empties the set and returns how many entries it held
func (s *SeenSet) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ids)
	s.ids = make(map[seenKey]struct{})
	return n
}

// Len returns the number of entries
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
