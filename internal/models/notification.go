package models

import (
	"time"

	"github.com/benmeehan/presence-engine/internal/constants"
)

// NotificationPayload is the pending marker stored for an armed timer and the
// payload carried by the work item once the timer fires.
type NotificationPayload struct {
	ArmID      string              `json:"arm_id"`
	DeviceID   string              `json:"device_id"`
	Event      constants.EventKind `json:"event"`
	ObservedAt time.Time           `json:"observed_at"`
}

// WorkItem is a unit of deferred notification work; Payload.Event selects the handler.
type WorkItem struct {
	ID      string
	Payload NotificationPayload
}
