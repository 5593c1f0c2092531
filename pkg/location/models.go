package location

// Position is a WGS84 coordinate reported by a device.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // HDOP when decoded from NMEA, zero otherwise
}

// Address is the postal address resolved for a coordinate.
type Address struct {
	Street   string
	Town     string
	PostCode string
	Country  string
}
