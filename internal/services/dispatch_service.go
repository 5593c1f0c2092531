package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DispatchHandler performs the deferred work for one fired notification.
type DispatchHandler func(ctx context.Context, payload models.NotificationPayload) error

// DispatchService owns the background queue of fired notifications and routes
// each work item to the handler registered for its event kind.
type DispatchService struct {
	Logger zerolog.Logger

	queue    *utils.TaskQueue[models.WorkItem]
	mu       sync.RWMutex
	handlers map[constants.EventKind]DispatchHandler
}

// NewDispatchService initializes a new DispatchService.
func NewDispatchService(logger zerolog.Logger) *DispatchService {
	d := &DispatchService{
		Logger:   logger,
		handlers: make(map[constants.EventKind]DispatchHandler),
	}
	d.queue = utils.NewTaskQueue(d.process, logger)
	return d
}

// Handle registers fn for kind, replacing any previous handler.
func (d *DispatchService) Handle(kind constants.EventKind, fn DispatchHandler) {
	d.mu.Lock()
	d.handlers[kind] = fn
	d.mu.Unlock()
}

// Enqueue wraps payload in a work item and queues it without blocking.
func (d *DispatchService) Enqueue(payload models.NotificationPayload) error {
	return d.EnqueueItem(&models.WorkItem{ID: uuid.NewString(), Payload: payload})
}

// EnqueueItem queues item as is. Nil items are rejected.
func (d *DispatchService) EnqueueItem(item *models.WorkItem) error {
	return d.queue.Enqueue(item)
}

// Len returns the number of queued items.
func (d *DispatchService) Len() int {
	return d.queue.Len()
}

func (d *DispatchService) Start() error {
	if err := d.queue.Start(); err != nil {
		d.Logger.Warn().Msg("DispatchService is already running")
		return fmt.Errorf("dispatch service: %w", err)
	}
	d.Logger.Info().Msg("DispatchService started successfully")
	return nil
}

func (d *DispatchService) Stop() error {
	if err := d.queue.Stop(); err != nil {
		d.Logger.Warn().Msg("DispatchService is not running")
		return fmt.Errorf("dispatch service: %w", err)
	}
	d.Logger.Info().Msg("DispatchService stopped successfully")
	return nil
}

func (d *DispatchService) process(ctx context.Context, item *models.WorkItem) error {
	d.mu.RLock()
	fn, ok := d.handlers[item.Payload.Event]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no dispatch handler for %q (item %s)", item.Payload.Event, item.ID)
	}

	if err := fn(ctx, item.Payload); err != nil {
		return fmt.Errorf("dispatch %s for device %s (item %s): %w", item.Payload.Event, item.Payload.DeviceID, item.ID, err)
	}
	d.Logger.Info().
		Str("item_id", item.ID).
		Str("device_id", item.Payload.DeviceID).
		Str("event", string(item.Payload.Event)).
		Msg("Notification dispatched")
	return nil
}
