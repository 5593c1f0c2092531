package ws

import "encoding/json"

// MessageType tags frames exchanged with devices.
type MessageType string

const (
	// Device to server.
	MsgTypePing     MessageType = "ping"
	MsgTypeLocation MessageType = "location"
	MsgTypeOperator MessageType = "operator"

	// Server to device.
	MsgTypePong  MessageType = "pong"
	MsgTypeError MessageType = "error"
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Ts   int64           `json:"ts,omitempty"`
}

// LocationData is either a decoded coordinate or a raw NMEA sentence.
type LocationData struct {
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
	NMEA string   `json:"nmea,omitempty"`
}

type OperatorData struct {
	OperatorID string `json:"operator_id"`
}
