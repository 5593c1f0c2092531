package models

import "time"

// Device is the catalog record of a registered device and its configured geofence.
type Device struct {
	ID           string    `json:"id" gorm:"column:id;primaryKey"`
	UDID         string    `json:"udid" gorm:"column:udid;uniqueIndex;size:128"`
	Name         string    `json:"name" gorm:"column:name"`
	Latitude     float64   `json:"latitude" gorm:"column:latitude"`
	Longitude    float64   `json:"longitude" gorm:"column:longitude"`
	RadiusMeters float64   `json:"radius_meters" gorm:"column:radius_meters"`
	CompanyID    string    `json:"company_id" gorm:"column:company_id"`
	BranchID     string    `json:"branch_id" gorm:"column:branch_id"`
	Notes        string    `json:"notes" gorm:"column:notes"`
	AlertEmails  string    `json:"alert_emails" gorm:"column:alert_emails"`
	IsPending    bool      `json:"is_pending" gorm:"column:is_pending"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Device) TableName() string {
	return "devices"
}
