package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benmeehan/presence-engine/internal/models"
)

// DeviceCatalog resolves device configuration by UDID.
type DeviceCatalog interface {
	// GetByDeviceID returns nil without error when the device is unknown.
	GetByDeviceID(ctx context.Context, udid string) (*models.Device, error)
	// CreatePending registers an unknown device awaiting operator approval.
	CreatePending(ctx context.Context, udid string) (*models.Device, error)
}

// HistoryLedger is the append-only log of device state snapshots.
type HistoryLedger interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	// LatestFor returns nil without error when the device has no history.
	LatestFor(ctx context.Context, deviceID string) (*models.HistoryEntry, error)
	// ListFor returns entries at or after since in append order.
	ListFor(ctx context.Context, deviceID string, since time.Time) ([]models.HistoryEntry, error)
}

var seq atomic.Int64

func init() {
	seq.Store(time.Now().UnixNano())
}

// nextSeq orders appends that share a timestamp.
func nextSeq() int64 {
	return seq.Add(1)
}

// newer reports whether a supersedes b as the current entry.
func newer(a, b *models.HistoryEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.Seq > b.Seq
}
