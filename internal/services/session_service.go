package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/internal/repository"
	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/rs/zerolog"
)

// Broadcaster pushes history changes to subscribers of the device feed.
type Broadcaster interface {
	BroadcastToDevice(ctx context.Context, deviceID, event string, entry *models.HistoryEntry) error
	BroadcastToAll(ctx context.Context, event string, entry *models.HistoryEntry) error
}

// ConnectionTerminator forcibly closes a device connection.
type ConnectionTerminator interface {
	Terminate(connID string) error
}

// Arming is the part of the scheduler the session controller drives.
type Arming interface {
	Arm(ctx context.Context, kind constants.EventKind, deviceID string) (ArmResult, error)
}

// SessionService reacts to device connection events: it keeps presence and
// liveness current, records history and arms debounced notifications.
type SessionService struct {
	Presence    *PresenceRegistry
	Liveness    *LivenessService
	Scheduler   Arming
	Catalog     repository.DeviceCatalog
	Ledger      repository.HistoryLedger
	Broadcaster Broadcaster
	Terminator  ConnectionTerminator
	Recovery    *StoreRecovery
	Logger      zerolog.Logger
	Now         func() time.Time
}

// NewSessionService initializes a new SessionService. The terminator is
// usually attached later by the transport that owns the connections.
func NewSessionService(presence *PresenceRegistry, liveness *LivenessService, scheduler Arming,
	catalog repository.DeviceCatalog, ledger repository.HistoryLedger, broadcaster Broadcaster,
	recovery *StoreRecovery, logger zerolog.Logger) *SessionService {
	return &SessionService{
		Presence:    presence,
		Liveness:    liveness,
		Scheduler:   scheduler,
		Catalog:     catalog,
		Ledger:      ledger,
		Broadcaster: broadcaster,
		Recovery:    recovery,
		Logger:      logger,
		Now:         time.Now,
	}
}

// Connect registers connID as the device's current connection, records it
// online and arms an online notification for devices already known.
func (s *SessionService) Connect(ctx context.Context, connID, deviceID string) error {
	log := s.Logger.With().Str("device_id", deviceID).Str("connection_id", connID).Logger()

	evicted, err := s.Presence.Connect(ctx, deviceID, connID)
	if err != nil {
		return s.storeFailure(log, err, "Failed to register presence")
	}
	if evicted != "" {
		s.Liveness.MarkForEviction(evicted)
	}
	s.Liveness.Touch(connID)

	device, known, err := s.resolveDevice(ctx, deviceID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve device on connect")
		return err
	}

	latest, err := s.Ledger.LatestFor(ctx, deviceID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load device history")
		return err
	}
	entry := s.nextEntry(device, latest)
	entry.IsOnline = true
	if err := s.Ledger.Append(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record device online")
		return err
	}

	if !known {
		log.Info().Msg("New device registered as pending")
		s.broadcastAll(ctx, log, constants.BroadcastDeviceAdded, entry)
		return nil
	}

	log.Info().Msg("Device connected")
	s.broadcastDevice(ctx, log, deviceID, entry)
	return s.arm(ctx, log, constants.EventOnline, deviceID)
}

// Disconnect handles a closed connection. Disconnects of superseded
// connections are ignored.
func (s *SessionService) Disconnect(ctx context.Context, connID string) error {
	log := s.Logger.With().Str("connection_id", connID).Logger()

	s.Liveness.Forget(connID)

	deviceID, current, err := s.Presence.Disconnect(ctx, connID)
	if err != nil {
		return s.storeFailure(log, err, "Failed to release presence")
	}
	if !current {
		log.Debug().Msg("Disconnect of non-current connection ignored")
		return nil
	}
	log = log.With().Str("device_id", deviceID).Logger()

	device, err := s.Catalog.GetByDeviceID(ctx, deviceID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load device on disconnect")
		return err
	}
	if device == nil {
		log.Warn().Msg("Disconnected device is missing from the catalog")
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	latest, err := s.Ledger.LatestFor(ctx, deviceID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load device history")
		return err
	}
	entry := s.nextEntry(device, latest)
	entry.IsOnline = false
	if err := s.Ledger.Append(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record device offline")
		return err
	}

	log.Info().Msg("Device disconnected")
	armErr := s.arm(ctx, log, constants.EventOffline, deviceID)
	s.broadcastDevice(ctx, log, deviceID, entry)
	return armErr
}

// UpdateLocation evaluates the geofence for a reported position. History is
// appended while the device is out of location or when the in-location flag
// changes, and only then is a geofence notification armed.
func (s *SessionService) UpdateLocation(ctx context.Context, connID string, lat, lon float64) error {
	log := s.Logger.With().Str("connection_id", connID).Logger()

	device, err := s.deviceForConnection(ctx, log, connID)
	if err != nil {
		return err
	}
	log = log.With().Str("device_id", device.UDID).Logger()

	latest, err := s.Ledger.LatestFor(ctx, device.UDID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load device history")
		return err
	}

	inLocation := location.IsInLocation(device.Latitude, device.Longitude, lat, lon, device.RadiusMeters)
	wasInLocation := latest == nil || latest.IsInLocation
	if inLocation && wasInLocation {
		return nil
	}

	entry := s.nextEntry(device, latest)
	entry.IsOnline = true
	entry.CurrentLat = lat
	entry.CurrentLon = lon
	entry.IsInLocation = inLocation
	if err := s.Ledger.Append(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record device location")
		return err
	}

	kind := constants.EventOutOfLocation
	if inLocation {
		kind = constants.EventInLocation
	}
	log.Info().Bool("in_location", inLocation).Float64("lat", lat).Float64("lon", lon).Msg("Device location recorded")
	s.broadcastDevice(ctx, log, device.UDID, entry)
	return s.arm(ctx, log, kind, device.UDID)
}

// ReassignOperator records a new operator for the device. Nothing is armed.
func (s *SessionService) ReassignOperator(ctx context.Context, connID, operatorID string) error {
	log := s.Logger.With().Str("connection_id", connID).Logger()

	device, err := s.deviceForConnection(ctx, log, connID)
	if err != nil {
		return err
	}
	log = log.With().Str("device_id", device.UDID).Logger()

	var operator *string
	if operatorID != "" {
		operator = &operatorID
	}

	latest, err := s.Ledger.LatestFor(ctx, device.UDID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load device history")
		return err
	}
	if (latest == nil && operator == nil) || (latest != nil && latest.SameOperator(operator)) {
		return nil
	}

	entry := s.nextEntry(device, latest)
	entry.IsOnline = true
	entry.OperatorID = operator
	if err := s.Ledger.Append(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to record operator change")
		return err
	}

	log.Info().Str("operator_id", operatorID).Msg("Device operator reassigned")
	s.broadcastDevice(ctx, log, device.UDID, entry)
	return nil
}

// ClientPing refreshes the liveness window of connID.
func (s *SessionService) ClientPing(connID string) {
	s.Liveness.Touch(connID)
}

// HeartbeatTick terminates connID when it is marked for eviction and reports
// whether it did.
func (s *SessionService) HeartbeatTick(connID string) bool {
	if !s.Liveness.TryConsumeEviction(connID) {
		return false
	}

	s.Logger.Info().Str("connection_id", connID).Msg("Terminating evicted connection")
	if s.Terminator == nil {
		s.Logger.Warn().Str("connection_id", connID).Msg("No connection terminator attached")
		return true
	}
	if err := s.Terminator.Terminate(connID); err != nil {
		s.Logger.Error().Err(err).Str("connection_id", connID).Msg("Failed to terminate connection")
	}
	return true
}

// resolveDevice loads the device, registering it as pending when unknown.
// known is false when the device was created by this call.
func (s *SessionService) resolveDevice(ctx context.Context, deviceID string) (*models.Device, bool, error) {
	device, err := s.Catalog.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if device != nil {
		return device, true, nil
	}

	if _, err := s.Catalog.CreatePending(ctx, deviceID); err != nil {
		return nil, false, err
	}
	device, err = s.Catalog.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if device == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return device, false, nil
}

func (s *SessionService) deviceForConnection(ctx context.Context, log zerolog.Logger, connID string) (*models.Device, error) {
	deviceID, ok, err := s.Presence.Lookup(ctx, connID)
	if err != nil {
		return nil, s.storeFailure(log, err, "Failed to resolve connection")
	}
	if !ok {
		log.Warn().Msg("Event from unregistered connection dropped")
		return nil, fmt.Errorf("%w: connection %s", ErrUnknownDevice, connID)
	}

	device, err := s.Catalog.GetByDeviceID(ctx, deviceID)
	if err != nil {
		log.Error().Err(err).Str("device_id", deviceID).Msg("Failed to load device")
		return nil, err
	}
	if device == nil {
		log.Warn().Str("device_id", deviceID).Msg("Device is missing from the catalog")
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return device, nil
}

// nextEntry starts a history entry that carries forward the latest known
// position and operator, or the configured center for a device without history.
func (s *SessionService) nextEntry(device *models.Device, latest *models.HistoryEntry) *models.HistoryEntry {
	entry := &models.HistoryEntry{
		Timestamp:        s.Now().UTC(),
		DeviceID:         device.UDID,
		CompanyID:        device.CompanyID,
		IsInLocation:     true,
		CurrentLat:       device.Latitude,
		CurrentLon:       device.Longitude,
		ConfiguredLat:    device.Latitude,
		ConfiguredLon:    device.Longitude,
		ConfiguredRadius: device.RadiusMeters,
	}
	if latest != nil {
		entry.IsInLocation = latest.IsInLocation
		entry.CurrentLat = latest.CurrentLat
		entry.CurrentLon = latest.CurrentLon
		entry.OperatorID = latest.OperatorID
	}
	return entry
}

func (s *SessionService) arm(ctx context.Context, log zerolog.Logger, kind constants.EventKind, deviceID string) error {
	result, err := s.Scheduler.Arm(ctx, kind, deviceID)
	if err != nil {
		return s.storeFailure(log, err, "Failed to arm notification")
	}
	log.Debug().Str("event", string(kind)).Str("result", result.String()).Msg("Notification scheduling evaluated")
	return nil
}

func (s *SessionService) storeFailure(log zerolog.Logger, err error, msg string) error {
	log.Error().Err(err).Msg(msg)
	if s.Recovery != nil {
		s.Recovery.Recover(err)
	}
	return err
}

func (s *SessionService) broadcastDevice(ctx context.Context, log zerolog.Logger, deviceID string, entry *models.HistoryEntry) {
	if s.Broadcaster == nil {
		return
	}
	if err := s.Broadcaster.BroadcastToDevice(ctx, deviceID, constants.BroadcastDeviceUpdated, entry); err != nil {
		log.Warn().Err(err).Msg("Failed to broadcast device update")
	}
}

func (s *SessionService) broadcastAll(ctx context.Context, log zerolog.Logger, event string, entry *models.HistoryEntry) {
	if s.Broadcaster == nil {
		return
	}
	if err := s.Broadcaster.BroadcastToAll(ctx, event, entry); err != nil {
		log.Warn().Err(err).Msg("Failed to broadcast device event")
	}
}

// IsDataError reports whether err stems from bad input rather than an unavailable dependency.
func IsDataError(err error) bool {
	return errors.Is(err, ErrUnknownDevice) || errors.Is(err, ErrMalformedPayload)
}
