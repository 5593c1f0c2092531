package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/google/uuid"
)

// MemoryLedger keeps history in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string][]models.HistoryEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string][]models.HistoryEntry)}
}

func (l *MemoryLedger) Append(_ context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.Seq = nextSeq()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.DeviceID] = append(l.entries[entry.DeviceID], *entry)
	return nil
}

func (l *MemoryLedger) LatestFor(_ context.Context, deviceID string) (*models.HistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var latest *models.HistoryEntry
	for i := range l.entries[deviceID] {
		e := &l.entries[deviceID][i]
		if latest == nil || newer(e, latest) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (l *MemoryLedger) ListFor(_ context.Context, deviceID string, since time.Time) ([]models.HistoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.HistoryEntry
	for _, e := range l.entries[deviceID] {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return newer(&out[j], &out[i]) })
	return out, nil
}
