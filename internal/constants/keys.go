package constants

import "time"

// Shared store key layout.
const (
	PresenceConnectionPrefix = "presence:connection:"
	PresenceDevicePrefix     = "presence:device:"
	NotificationPrefix       = "notification:"
	ShadowKeyPrefix          = "shadowkey:"
	DispatchClaimPrefix      = "dispatch-claim:"
)

// DispatchClaimTTL bounds how long a fired timer's claim is remembered across instances.
const DispatchClaimTTL = 10 * time.Minute

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultLivenessWindowSeconds = 35
	DefaultDebounceWindowSeconds = 60
	DefaultHeartbeatInterval     = 10 * time.Second
	DefaultAlertTimezone         = "America/Denver"
	DefaultAlertCountry          = "USA"
	DefaultServerAddress         = ":8080"
	DefaultTopicPrefix           = "presence"
)
