package models

// AlertEmail is the body posted to the notification service.
type AlertEmail struct {
	UDID              string   `json:"UDID"`
	EmailsTo          []string `json:"EmailsTo"`
	Cause             string   `json:"Cause"`
	Address           string   `json:"Address"`
	Town              string   `json:"Town"`
	PostCode          string   `json:"PostCode"`
	Country           string   `json:"Country"`
	Notes             string   `json:"Notes"`
	LastHeartBeat     string   `json:"LastHeartBeat"`
	PreviousHeartBeat string   `json:"PreviousHeartBeat"`
}

// Broadcast is the message pushed to subscribers of the device feed.
type Broadcast struct {
	Event string        `json:"event"`
	Entry *HistoryEntry `json:"entry,omitempty"`
}
