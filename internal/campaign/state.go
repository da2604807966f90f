package campaign

import (
	"sort"
	"sync"
	"time"

	"github.com/leadmify/agent/internal/browser"
	"github.com/leadmify/agent/internal/controlplane"
)

// RuntimeState is the local supervision record of one running campaign
type RuntimeState struct {
	ID        controlplane.ID
	Name      string
	StartedAt time.Time

	stopOnce sync.Once
	done     chan struct{}

	mu        sync.Mutex
	resources map[browser.Resource]struct{}
	sent      int
	failed    int
}

// NewRuntimeState creates the state for a campaign that is about to run
func NewRuntimeState(c controlplane.Campaign) *RuntimeState {
	return &RuntimeState{
		ID:        c.ID,
		Name:      c.Name,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		resources: make(map[browser.Resource]struct{}),
		sent:      c.TotalSent,
		failed:    c.TotalFailed,
	}
}

// Stop sets the stop flag. It is safe to call more than once.
func (s *RuntimeState) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Stopped reports whether Stop was called
func (s *RuntimeState) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed by Stop
func (s *RuntimeState) Done() <-chan struct{} {
	return s.done
}

// Attach tracks a live resource
func (s *RuntimeState) Attach(r browser.Resource) {
	s.mu.Lock()
	s.resources[r] = struct{}{}
	s.mu.Unlock()
}

// Detach stops tracking a resource
func (s *RuntimeState) Detach(r browser.Resource) {
	s.mu.Lock()
	delete(s.resources, r)
	s.mu.Unlock()
}

// ReleaseAll closes and detaches every attached resource, returning how many were closed
func (s *RuntimeState) ReleaseAll() int {
	s.mu.Lock()
	resources := s.resources
	s.resources = make(map[browser.Resource]struct{})
	s.mu.Unlock()

	for r := range resources {
		r.Close()
	}
	return len(resources)
}

// SetCounters seeds the counters from server-side totals
func (s *RuntimeState) SetCounters(sent, failed int) {
	s.mu.Lock()
	s.sent, s.failed = sent, failed
	s.mu.Unlock()
}

// RecordOutcome counts one send and returns the new totals
func (s *RuntimeState) RecordOutcome(sent bool) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sent {
		s.sent++
	} else {
		s.failed++
	}
	return s.sent, s.failed
}

// Counters returns the current totals
func (s *RuntimeState) Counters() (sent, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.failed
}

// Snapshot is a read-only view of a RuntimeState
type Snapshot struct {
	ID          controlplane.ID `json:"id"`
	Name        string          `json:"name"`
	StartedAt   time.Time       `json:"started_at"`
	Stopped     bool            `json:"stopped"`
	TotalSent   int             `json:"total_sent"`
	TotalFailed int             `json:"total_failed"`
	Resources   []string        `json:"resources"`
}

// Snapshot returns the current view of the state
func (s *RuntimeState) Snapshot() Snapshot {
	s.mu.Lock()
	paths := make([]string, 0, len(s.resources))
	for r := range s.resources {
		paths = append(paths, r.Path())
	}
	snap := Snapshot{
		ID:          s.ID,
		Name:        s.Name,
		StartedAt:   s.StartedAt,
		TotalSent:   s.sent,
		TotalFailed: s.failed,
		Resources:   paths,
	}
	s.mu.Unlock()

	sort.Strings(snap.Resources)
	snap.Stopped = s.Stopped()
	return snap
}

// Registry holds the locally active campaigns. Its lock is never held while
// a RuntimeState lock is taken.
type Registry struct {
	mu     sync.Mutex
	states map[controlplane.ID]*RuntimeState
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{states: make(map[controlplane.ID]*RuntimeState)}
}

// Add registers state. It returns false if the id is already active.
func (r *Registry) Add(state *RuntimeState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[state.ID]; ok {
		return false
	}
	r.states[state.ID] = state
	return true
}

// Get returns the state for id
func (r *Registry) Get(id controlplane.ID) (*RuntimeState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	return s, ok
}

// Remove unregisters id if it still maps to state
func (r *Registry) Remove(state *RuntimeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.states[state.ID]; ok && cur == state {
		delete(r.states, state.ID)
	}
}

// Len returns the number of active campaigns
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// States returns the active states sorted by id
func (r *Registry) States() []*RuntimeState {
	r.mu.Lock()
	states := make([]*RuntimeState, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, s)
	}
	r.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	return states
}

// Snapshots returns a snapshot of every active campaign sorted by id
func (r *Registry) Snapshots() []Snapshot {
	states := r.States()
	out := make([]Snapshot, 0, len(states))
	for _, s := range states {
		out = append(out, s.Snapshot())
	}
	return out
}
