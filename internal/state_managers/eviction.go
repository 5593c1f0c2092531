package state_managers

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// EvictionSet holds connection ids whose liveness window elapsed and that must
// be terminated on their next heartbeat tick.
type EvictionSet struct {
	pending cmap.ConcurrentMap[string, time.Time]
}

// NewEvictionSet returns an empty EvictionSet.
func NewEvictionSet() *EvictionSet {
	return &EvictionSet{pending: cmap.New[time.Time]()}
}

// Mark adds connID. Marking an already pending id keeps the first mark time.
func (s *EvictionSet) Mark(connID string) bool {
	return s.pending.SetIfAbsent(connID, time.Now())
}

// TryConsume removes connID and reports whether it was pending. Concurrent
// callers for the same id see true at most once.
func (s *EvictionSet) TryConsume(connID string) bool {
	_, ok := s.pending.Pop(connID)
	return ok
}

// Forget drops connID without consuming it.
func (s *EvictionSet) Forget(connID string) {
	s.pending.Remove(connID)
}

// Prune drops marks made before cutoff and returns how many it removed.
func (s *EvictionSet) Prune(cutoff time.Time) int {
	removed := 0
	for connID, markedAt := range s.pending.Items() {
		if markedAt.Before(cutoff) && s.pending.RemoveCb(connID, func(_ string, v time.Time, exists bool) bool {
			return exists && v.Equal(markedAt)
		}) {
			removed++
		}
	}
	return removed
}

func (s *EvictionSet) IsPending(connID string) bool {
	return s.pending.Has(connID)
}

func (s *EvictionSet) Len() int {
	return s.pending.Count()
}
