package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/pkg/file"
	"github.com/google/uuid"
)

// MemoryCatalog keeps device configuration in process memory.
type MemoryCatalog struct {
	mu      sync.RWMutex
	devices map[string]models.Device
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{devices: make(map[string]models.Device)}
}

// LoadSeed reads a JSON array of devices from path and registers them.
func (c *MemoryCatalog) LoadSeed(path string, fileClient file.FileOperations) (int, error) {
	var devices []models.Device
	if err := fileClient.ReadJsonFile(path, &devices); err != nil {
		return 0, fmt.Errorf("failed to load device seed: %w", err)
	}
	for _, d := range devices {
		c.Put(d)
	}
	return len(devices), nil
}

// Put inserts or replaces a device keyed by its UDID.
func (c *MemoryCatalog) Put(d models.Device) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	c.devices[d.UDID] = d
	c.mu.Unlock()
}

func (c *MemoryCatalog) GetByDeviceID(_ context.Context, udid string) (*models.Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[udid]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (c *MemoryCatalog) CreatePending(_ context.Context, udid string) (*models.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.devices[udid]; ok {
		return &d, nil
	}
	d := models.Device{
		ID:        uuid.NewString(),
		UDID:      udid,
		Name:      udid,
		IsPending: true,
		CreatedAt: time.Now().UTC(),
	}
	c.devices[udid] = d
	return &d, nil
}
