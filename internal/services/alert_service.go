package services

import (
	"context"
	"fmt"
	"time"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/internal/repository"
	"github.com/benmeehan/presence-engine/internal/utils"
	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/benmeehan/presence-engine/pkg/notify"
	"github.com/rs/zerolog"
)

const heartbeatLayout = "2006-01-02 15:04:05"

// AlertService turns fired notifications into alert e-mails.
type AlertService struct {
	Catalog  repository.DeviceCatalog
	Ledger   repository.HistoryLedger
	Notifier notify.Notifier
	Resolver location.AddressResolver // optional
	Location *time.Location
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewAlertService initializes a new AlertService. A nil loc renders times in UTC.
func NewAlertService(catalog repository.DeviceCatalog, ledger repository.HistoryLedger, notifier notify.Notifier,
	resolver location.AddressResolver, loc *time.Location, logger zerolog.Logger) *AlertService {
	if loc == nil {
		loc = time.UTC
	}
	return &AlertService{
		Catalog:  catalog,
		Ledger:   ledger,
		Notifier: notifier,
		Resolver: resolver,
		Location: loc,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Register routes every event kind of d to Send.
func (a *AlertService) Register(d *DispatchService) {
	for _, kind := range []constants.EventKind{
		constants.EventOnline,
		constants.EventOffline,
		constants.EventInLocation,
		constants.EventOutOfLocation,
	} {
		d.Handle(kind, a.Send)
	}
}

// Send builds the alert for payload and hands it to the notifier.
func (a *AlertService) Send(ctx context.Context, payload models.NotificationPayload) error {
	device, err := a.Catalog.GetByDeviceID(ctx, payload.DeviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, payload.DeviceID)
	}

	alert, err := a.Build(ctx, device, payload)
	if err != nil {
		return err
	}
	return a.Notifier.SendAlert(ctx, alert)
}

// Build assembles the alert body. For online alerts the previous heartbeat is
// the latest recorded online entry; otherwise it is the send time.
func (a *AlertService) Build(ctx context.Context, device *models.Device, payload models.NotificationPayload) (models.AlertEmail, error) {
	previous := a.Now().UTC()
	if payload.Event == constants.EventOnline {
		entries, err := a.Ledger.ListFor(ctx, device.UDID, time.Time{})
		if err != nil {
			return models.AlertEmail{}, err
		}
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].IsOnline {
				previous = entries[i].Timestamp
				break
			}
		}
	}

	alert := models.AlertEmail{
		UDID:              device.UDID,
		EmailsTo:          utils.SplitList(device.AlertEmails),
		Cause:             string(payload.Event),
		Country:           constants.DefaultAlertCountry,
		Notes:             device.Notes,
		LastHeartBeat:     payload.ObservedAt.In(a.Location).Format(heartbeatLayout),
		PreviousHeartBeat: previous.In(a.Location).Format(heartbeatLayout),
	}

	if a.Resolver != nil && device.RadiusMeters > 0 {
		addr, err := a.Resolver.ResolveAddress(ctx, device.Latitude, device.Longitude)
		if err != nil {
			a.Logger.Warn().Err(err).Str("device_id", device.UDID).Msg("Failed to resolve alert address")
		} else {
			alert.Address = addr.Street
			alert.Town = addr.Town
			alert.PostCode = addr.PostCode
			if addr.Country != "" {
				alert.Country = addr.Country
			}
		}
	}
	return alert, nil
}
