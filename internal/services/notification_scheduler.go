package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArmResult describes what Arm did with a transition.
type ArmResult int

const (
	// Armed means a timer now runs for the transition.
	Armed ArmResult = iota
	// Cancelled means a pending opposite transition was withdrawn and nothing was armed.
	Cancelled
	// Suppressed means an out-of-location timer or marker already existed.
	Suppressed
)

func (r ArmResult) String() string {
	switch r {
	case Armed:
		return "armed"
	case Cancelled:
		return "cancelled"
	case Suppressed:
		return "suppressed"
	}
	return fmt.Sprintf("ArmResult(%d)", int(r))
}

// Enqueuer accepts fired notifications for background delivery.
type Enqueuer interface {
	Enqueue(payload models.NotificationPayload) error
}

// NotificationScheduler debounces presence and geofence transitions with
// shadow keys whose expiration in the shared store acts as the timer.
type NotificationScheduler struct {
	Store    store.KeyedStore
	Window   time.Duration
	Queue    Enqueuer
	Recovery *StoreRecovery
	Logger   zerolog.Logger
	Now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewNotificationScheduler initializes a new NotificationScheduler.
func NewNotificationScheduler(st store.KeyedStore, window time.Duration, queue Enqueuer,
	recovery *StoreRecovery, logger zerolog.Logger) *NotificationScheduler {
	return &NotificationScheduler{
		Store:    st,
		Window:   window,
		Queue:    queue,
		Recovery: recovery,
		Logger:   logger,
		Now:      time.Now,
	}
}

// NotificationKey is the pending marker key of kind for deviceID.
func NotificationKey(kind constants.EventKind, deviceID string) string {
	return constants.NotificationPrefix + string(kind) + ":" + deviceID
}

// ShadowKey is the TTL key whose expiration fires the timer for key.
func ShadowKey(key string) string {
	return constants.ShadowKeyPrefix + key
}

// Start subscribes to store expirations.
func (s *NotificationScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.Logger.Warn().Msg("NotificationScheduler is already running")
		return errors.New("notification scheduler is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Store.SubscribeExpirations(ctx, s.HandleExpired); err != nil {
		cancel()
		return fmt.Errorf("subscribe to key expirations: %w", err)
	}
	s.ctx, s.cancel = ctx, cancel

	s.Logger.Info().Dur("window", s.Window).Msg("NotificationScheduler started successfully")
	return nil
}

// Stop cancels the expiration subscription.
func (s *NotificationScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.Logger.Warn().Msg("NotificationScheduler is not running")
		return errors.New("notification scheduler is not running")
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil

	s.Logger.Info().Msg("NotificationScheduler stopped successfully")
	return nil
}

// Arm records a transition of kind for deviceID.
//
// A pending opposite timer cancels out with this transition. Otherwise a new
// timer is armed, replacing any timer of the same kind. Out-of-location is the
// exception: while its timer or marker exists, repeats are suppressed so the
// timer is not restarted.
func (s *NotificationScheduler) Arm(ctx context.Context, kind constants.EventKind, deviceID string) (ArmResult, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown event kind %q", kind)
	}

	key := NotificationKey(kind, deviceID)
	oppositeKey := NotificationKey(kind.Opposite(), deviceID)

	if kind == constants.EventOutOfLocation {
		for _, k := range []string{ShadowKey(key), key} {
			exists, err := s.Store.Exists(ctx, k)
			if err != nil {
				return 0, fmt.Errorf("check %s: %w", k, err)
			}
			if exists {
				s.Logger.Debug().Str("device_id", deviceID).Str("event", string(kind)).Msg("Notification already pending, suppressed")
				return Suppressed, nil
			}
		}
	}

	oppositeArmed, err := s.Store.Exists(ctx, ShadowKey(oppositeKey))
	if err != nil {
		return 0, fmt.Errorf("check %s: %w", ShadowKey(oppositeKey), err)
	}
	if oppositeArmed {
		if err := s.Store.Delete(ctx, ShadowKey(oppositeKey), oppositeKey); err != nil {
			return 0, fmt.Errorf("cancel %s: %w", oppositeKey, err)
		}
		s.Logger.Info().
			Str("device_id", deviceID).
			Str("event", string(kind)).
			Str("cancelled_event", string(kind.Opposite())).
			Msg("Transition cancelled a pending notification")
		return Cancelled, nil
	}

	// The opposite marker may outlive its fired timer; it is stale now.
	if err := s.Store.Delete(ctx, oppositeKey); err != nil {
		return 0, fmt.Errorf("drop stale %s: %w", oppositeKey, err)
	}

	payload := models.NotificationPayload{
		ArmID:      uuid.NewString(),
		DeviceID:   deviceID,
		Event:      kind,
		ObservedAt: s.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	if err := s.Store.Set(ctx, key, string(raw), 0); err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	if err := s.Store.Set(ctx, ShadowKey(key), key, s.Window); err != nil {
		return 0, fmt.Errorf("arm %s: %w", key, err)
	}

	s.Logger.Info().
		Str("device_id", deviceID).
		Str("event", string(kind)).
		Str("arm_id", payload.ArmID).
		Dur("window", s.Window).
		Msg("Notification armed")
	return Armed, nil
}

// HandleExpired turns an expired shadow key into a queued notification.
// Keys without the shadow prefix are ignored. The marker is left in place.
func (s *NotificationScheduler) HandleExpired(ctx context.Context, expiredKey string) {
	if !strings.HasPrefix(expiredKey, constants.ShadowKeyPrefix) {
		return
	}
	key := strings.TrimPrefix(expiredKey, constants.ShadowKeyPrefix)

	raw, ok, err := s.Store.Get(ctx, key)
	if err != nil {
		s.Logger.Error().Err(err).Str("key", key).Msg("Failed to read pending notification")
		s.recover(err)
		return
	}
	if !ok {
		s.Logger.Warn().Str("key", key).Msg("Timer fired without a pending notification")
		return
	}

	var payload models.NotificationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || !payload.Event.Valid() {
		s.Logger.Error().Err(err).Str("key", key).Msg(ErrMalformedPayload.Error())
		return
	}

	claimKey := ""
	if payload.ArmID != "" {
		claimKey = constants.DispatchClaimPrefix + payload.ArmID
		won, err := s.Store.SetIfAbsent(ctx, claimKey, key, constants.DispatchClaimTTL)
		if err != nil {
			s.Logger.Error().Err(err).Str("key", key).Msg("Failed to claim fired notification")
			s.recover(err)
			return
		}
		if !won {
			s.Logger.Debug().Str("arm_id", payload.ArmID).Msg("Fired notification claimed by another instance")
			return
		}
	}

	if err := s.Queue.Enqueue(payload); err != nil {
		s.Logger.Error().Err(err).Str("device_id", payload.DeviceID).Str("event", string(payload.Event)).Msg("Failed to enqueue notification")
		// Release the claim so another instance can still deliver it.
		if claimKey != "" {
			if err := s.Store.Delete(ctx, claimKey); err != nil {
				s.Logger.Error().Err(err).Str("arm_id", payload.ArmID).Msg("Failed to release dispatch claim")
				s.recover(err)
			}
		}
		return
	}
	s.Logger.Info().Str("device_id", payload.DeviceID).Str("event", string(payload.Event)).Msg("Notification due, queued for delivery")
}

func (s *NotificationScheduler) recover(err error) {
	if s.Recovery != nil {
		s.Recovery.Recover(err)
	}
}
