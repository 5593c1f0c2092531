package services

import (
	"context"
	"fmt"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/rs/zerolog"
)

// PresenceRegistry maps live connections to devices in the shared store so
// that every instance agrees on which connection currently represents a device.
type PresenceRegistry struct {
	Store  store.KeyedStore
	Logger zerolog.Logger
}

// NewPresenceRegistry initializes a new PresenceRegistry.
func NewPresenceRegistry(st store.KeyedStore, logger zerolog.Logger) *PresenceRegistry {
	return &PresenceRegistry{Store: st, Logger: logger}
}

func connectionKey(connID string) string {
	return constants.PresenceConnectionPrefix + connID
}

func deviceKey(deviceID string) string {
	return constants.PresenceDevicePrefix + deviceID
}

// Connect records connID as the current connection of deviceID and returns the
// connection it superseded, if any, so the caller can evict it.
func (p *PresenceRegistry) Connect(ctx context.Context, deviceID, connID string) (string, error) {
	if err := p.Store.Set(ctx, connectionKey(connID), deviceID, 0); err != nil {
		return "", fmt.Errorf("register connection %s: %w", connID, err)
	}

	prev, ok, err := p.Store.GetSet(ctx, deviceKey(deviceID), connID)
	if err != nil {
		return "", fmt.Errorf("swap connection of device %s: %w", deviceID, err)
	}
	if !ok || prev == connID {
		return "", nil
	}

	p.Logger.Info().
		Str("device_id", deviceID).
		Str("connection_id", connID).
		Str("superseded_connection_id", prev).
		Msg("Device reconnected on a new connection")
	return prev, nil
}

// Disconnect removes connID. The device is reported only when connID was
// still its current connection; a superseded connection yields ok=false.
func (p *PresenceRegistry) Disconnect(ctx context.Context, connID string) (string, bool, error) {
	deviceID, found, err := p.Store.Get(ctx, connectionKey(connID))
	if err != nil {
		return "", false, fmt.Errorf("lookup connection %s: %w", connID, err)
	}
	if err := p.Store.Delete(ctx, connectionKey(connID)); err != nil {
		return "", false, fmt.Errorf("remove connection %s: %w", connID, err)
	}
	if !found {
		return "", false, nil
	}

	current, err := p.Store.CompareAndDelete(ctx, deviceKey(deviceID), connID)
	if err != nil {
		return "", false, fmt.Errorf("release device %s: %w", deviceID, err)
	}
	if !current {
		p.Logger.Debug().
			Str("device_id", deviceID).
			Str("connection_id", connID).
			Msg("Ignoring disconnect of superseded connection")
		return "", false, nil
	}
	return deviceID, true, nil
}

// Lookup returns the device connID belongs to.
func (p *PresenceRegistry) Lookup(ctx context.Context, connID string) (string, bool, error) {
	deviceID, ok, err := p.Store.Get(ctx, connectionKey(connID))
	if err != nil {
		return "", false, fmt.Errorf("lookup connection %s: %w", connID, err)
	}
	return deviceID, ok, nil
}

// CurrentConnection returns the connection currently representing deviceID.
func (p *PresenceRegistry) CurrentConnection(ctx context.Context, deviceID string) (string, bool, error) {
	connID, ok, err := p.Store.Get(ctx, deviceKey(deviceID))
	if err != nil {
		return "", false, fmt.Errorf("lookup device %s: %w", deviceID, err)
	}
	return connID, ok, nil
}
