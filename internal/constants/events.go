package constants

// EventKind identifies a presence or geofence transition that can be debounced into an alert.
type EventKind string

const (
	EventOnline        EventKind = "online"
	EventOffline       EventKind = "offline"
	EventInLocation    EventKind = "in_location"
	EventOutOfLocation EventKind = "out_of_location"
)

// Opposite returns the complementary event of the pair the kind belongs to.
func (k EventKind) Opposite() EventKind {
	switch k {
	case EventOnline:
		return EventOffline
	case EventOffline:
		return EventOnline
	case EventInLocation:
		return EventOutOfLocation
	case EventOutOfLocation:
		return EventInLocation
	}
	return ""
}

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	return k.Opposite() != ""
}

// Broadcast event names pushed to subscribers of the device feed.
const (
	BroadcastDeviceAdded   = "DeviceAdded"
	BroadcastDeviceUpdated = "DeviceUpdated"
)
