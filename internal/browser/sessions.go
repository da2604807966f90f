package browser

import (
	"sort"
	"sync"
)

// Sessions holds interactive sessions opened on request, keyed by profile path
type Sessions struct {
	mu   sync.Mutex
	open map[string]Resource
}

// NewSessions creates an empty registry
func NewSessions() *Sessions {
	return &Sessions{open: make(map[string]Resource)}
}

// Add registers r under its path. It returns false if a session is already registered.
func (s *Sessions) Add(r Resource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[r.Path()]; ok {
		return false
	}
	s.open[r.Path()] = r
	return true
}

// Get returns the session for path, if any
func (s *Sessions) Get(path string) (Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.open[path]
	return r, ok
}

// Remove unregisters and returns the session for path
func (s *Sessions) Remove(path string) (Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.open[path]
	delete(s.open, path)
	return r, ok
}

// RemoveDead unregisters sessions that are no longer alive and returns them unclosed
func (s *Sessions) RemoveDead() []Resource {
	s.mu.Lock()
	open := make([]Resource, 0, len(s.open))
	for _, r := range s.open {
		open = append(open, r)
	}
	s.mu.Unlock()

	var dead []Resource
	for _, r := range open {
		if r.Alive() {
			continue
		}
		s.mu.Lock()
		if cur, ok := s.open[r.Path()]; ok && cur == r {
			delete(s.open, r.Path())
			dead = append(dead, r)
		}
		s.mu.Unlock()
	}
	return dead
}

// Paths returns the registered profile paths in sorted order
func (s *Sessions) Paths() []string {
	s.mu.Lock()
	paths := make([]string, 0, len(s.open))
	for p := range s.open {
		paths = append(paths, p)
	}
	s.mu.Unlock()

	sort.Strings(paths)
	return paths
}

// CloseAll closes and unregisters every session, returning the closed paths
func (s *Sessions) CloseAll() []string {
	s.mu.Lock()
	open := s.open
	s.open = make(map[string]Resource)
	s.mu.Unlock()

	paths := make([]string, 0, len(open))
	for p, r := range open {
		r.Close()
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
