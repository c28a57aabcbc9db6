package cache

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of cache activity since the last
// Clear. OldestItem and NewestItem track the extremal CreatedAt values
// observed on writes; they are approximate across deletes (the spec of
// the tracker does not recompute extremes when items leave).
type Stats struct {
	Hits          uint64
	Misses        uint64
	Size          int
	OldestItem    time.Time
	NewestItem    time.Time
	Evictions     uint64
	Pruned        uint64
	DroppedWrites uint64
}

// statsTracker accumulates counters under its own lock so backend I/O
// never serializes against stat reads.
type statsTracker struct {
	mu sync.Mutex
	s  Stats
}

func (t *statsTracker) recordHit() {
	t.mu.Lock()
	t.s.Hits++
	t.mu.Unlock()
}

func (t *statsTracker) recordMiss() {
	t.mu.Lock()
	t.s.Misses++
	t.mu.Unlock()
}

func (t *statsTracker) recordInsert(created bool, createdAt time.Time) {
	t.mu.Lock()
	if created {
		t.s.Size++
	}
	if t.s.OldestItem.IsZero() || createdAt.Before(t.s.OldestItem) {
		t.s.OldestItem = createdAt
	}
	if t.s.NewestItem.IsZero() || createdAt.After(t.s.NewestItem) {
		t.s.NewestItem = createdAt
	}
	t.mu.Unlock()
}

func (t *statsTracker) recordDelete(n int) {
	t.mu.Lock()
	t.s.Size -= n
	if t.s.Size < 0 {
		t.s.Size = 0
	}
	t.mu.Unlock()
}

func (t *statsTracker) recordEvictions(n int) {
	t.mu.Lock()
	t.s.Evictions += uint64(n)
	t.s.Size -= n
	if t.s.Size < 0 {
		t.s.Size = 0
	}
	t.mu.Unlock()
}

func (t *statsTracker) recordPruned(n int) {
	t.mu.Lock()
	t.s.Pruned += uint64(n)
	t.mu.Unlock()
}

func (t *statsTracker) recordDropped() {
	t.mu.Lock()
	t.s.DroppedWrites++
	t.mu.Unlock()
}

// resyncSize replaces the running size with an authoritative backend
// count. Lazy expiry deletes happen inside backends, so the running
// counter drifts high between sweeps; every sweep corrects it.
func (t *statsTracker) resyncSize(n int) {
	t.mu.Lock()
	t.s.Size = n
	t.mu.Unlock()
}

func (t *statsTracker) reset() {
	t.mu.Lock()
	t.s = Stats{}
	t.mu.Unlock()
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}
