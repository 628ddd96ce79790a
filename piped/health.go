package piped

import (
	"sync"
	"time"
)

// HealthTracker remembers which instances recently failed and owns the
// round-robin rotation cursor. One tracker is shared by all calls going
// through one client; construct a fresh one per client in tests.
type HealthTracker struct {
	mu        sync.Mutex
	brokenTTL time.Duration
	broken    map[string]time.Time
	cursor    int
	now       func() time.Time
}

func NewHealthTracker(brokenTTL time.Duration) *HealthTracker {
	return &HealthTracker{
		brokenTTL: brokenTTL,
		broken:    map[string]time.Time{},
		now:       time.Now,
	}
}

// MarkBroken benches an instance until the broken TTL elapses.
func (h *HealthTracker) MarkBroken(instance string) {
	h.mu.Lock()
	h.broken[instance] = h.now()
	h.mu.Unlock()
}

// IsHealthy reports whether an instance is currently eligible for selection.
// A benched instance becomes eligible again once its mark is older than the
// TTL, with no other state reset.
func (h *HealthTracker) IsHealthy(instance string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	markedAt, ok := h.broken[instance]
	if !ok {
		return true
	}
	return h.now().Sub(markedAt) >= h.brokenTTL
}

// Healthy filters instances down to the currently eligible subset, preserving
// order.
func (h *HealthTracker) Healthy(instances []string) []string {
	healthy := make([]string, 0, len(instances))
	for _, inst := range instances {
		if h.IsHealthy(inst) {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}

// Cursor returns the index into the original instance list where the next
// call should start trying.
func (h *HealthTracker) Cursor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

func (h *HealthTracker) SetCursor(i int) {
	h.mu.Lock()
	h.cursor = i
	h.mu.Unlock()
}
