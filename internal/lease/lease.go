// Package lease tracks which automation resources are held by a running job.
package lease

import (
	"sort"
	"sync"

	"github.com/leadmify/agent/internal/metrics"
)

// Tracker is a set of held resource keys. Contention is not queued: a
// caller that fails to acquire must skip its job.
type Tracker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewTracker creates an empty lease tracker
func NewTracker() *Tracker {
	return &Tracker{held: make(map[string]struct{})}
}

// TryAcquire claims key and reports whether the claim succeeded
func (t *Tracker) TryAcquire(key string) bool {
	t.mu.Lock()
	if _, ok := t.held[key]; ok {
		t.mu.Unlock()
		return false
	}
	t.held[key] = struct{}{}
	n := len(t.held)
	t.mu.Unlock()

	metrics.SetLeasesHeld(n)
	return true
}

// Release drops key. Releasing a key that is not held is a no-op.
func (t *Tracker) Release(key string) {
	t.mu.Lock()
	delete(t.held, key)
	n := len(t.held)
	t.mu.Unlock()

	metrics.SetLeasesHeld(n)
}

// Held reports whether key is currently leased
func (t *Tracker) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[key]
	return ok
}

// Len returns the number of held leases
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}

// Snapshot returns the held keys in sorted order
func (t *Tracker) Snapshot() []string {
	t.mu.Lock()
	keys := make([]string, 0, len(t.held))
	for k := range t.held {
		keys = append(keys, k)
	}
	t.mu.Unlock()

	sort.Strings(keys)
	return keys
}
