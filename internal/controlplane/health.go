package controlplane

import (
	"sync"
	"time"
)

// Health is a snapshot of connection health
type Health struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check"`
}

// connectionHealth is process-wide connectivity state guarded by its own lock
type connectionHealth struct {
	mu        sync.Mutex
	failures  int
	lastCheck time.Time
}

// due reports whether the connection has not been verified within interval
func (h *connectionHealth) due(now time.Time, interval time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCheck.IsZero() || now.Sub(h.lastCheck) >= interval
}

func (h *connectionHealth) recordSuccess(now time.Time) {
	h.mu.Lock()
	h.failures = 0
	h.lastCheck = now
	h.mu.Unlock()
}

// recordFailure returns the consecutive failure count including this one
func (h *connectionHealth) recordFailure() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	return h.failures
}

func (h *connectionHealth) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Health{ConsecutiveFailures: h.failures, LastCheck: h.lastCheck}
}
