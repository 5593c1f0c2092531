package models

import "time"

// HistoryEntry is an immutable snapshot of a device's presence and location state.
// The entry with the greatest Timestamp is the device's current state.
type HistoryEntry struct {
	ID               string    `json:"id" gorm:"column:id;primaryKey"`
	Timestamp        time.Time `json:"timestamp" gorm:"column:timestamp;index:idx_history_device_ts,priority:2"`
	DeviceID         string    `json:"device_id" gorm:"column:device_id;index:idx_history_device_ts,priority:1;size:128"`
	CompanyID        string    `json:"company_id" gorm:"column:company_id"`
	IsOnline         bool      `json:"is_online" gorm:"column:is_online"`
	IsInLocation     bool      `json:"is_in_location" gorm:"column:is_in_location"`
	CurrentLat       float64   `json:"current_lat" gorm:"column:current_lat"`
	CurrentLon       float64   `json:"current_lon" gorm:"column:current_lon"`
	ConfiguredLat    float64   `json:"configured_lat" gorm:"column:configured_lat"`
	ConfiguredLon    float64   `json:"configured_lon" gorm:"column:configured_lon"`
	ConfiguredRadius float64   `json:"configured_radius" gorm:"column:configured_radius"`
	OperatorID       *string   `json:"operator_id,omitempty" gorm:"column:operator_id"`

	// Seq orders entries appended in the same instant; later appends win ties.
	Seq int64 `json:"-" gorm:"column:seq"`
}

func (HistoryEntry) TableName() string {
	return "device_history"
}

// SameOperator reports whether the entry's operator equals operatorID.
func (h *HistoryEntry) SameOperator(operatorID *string) bool {
	if h.OperatorID == nil || operatorID == nil {
		return h.OperatorID == nil && operatorID == nil
	}
	return *h.OperatorID == *operatorID
}
