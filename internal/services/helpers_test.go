package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benmeehan/presence-engine/internal/mocks"
	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/internal/repository"
	"github.com/benmeehan/presence-engine/internal/services"
	"github.com/benmeehan/presence-engine/internal/state_managers"
	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testWindow = time.Minute

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder is an Enqueuer that keeps every payload it receives.
type recorder struct {
	mu       sync.Mutex
	payloads []models.NotificationPayload
}

func (r *recorder) Enqueue(p models.NotificationPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return nil
}

func (r *recorder) All() []models.NotificationPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.NotificationPayload(nil), r.payloads...)
}

// unavailableStore fails every call the way an unreachable Redis would.
type unavailableStore struct {
	store.KeyedStore
	reconnects atomic.Int32
}

func (u *unavailableStore) err() error {
	return store.ErrUnavailable
}

func (u *unavailableStore) Get(context.Context, string) (string, bool, error) {
	return "", false, u.err()
}

func (u *unavailableStore) Set(context.Context, string, string, time.Duration) error {
	return u.err()
}

func (u *unavailableStore) Delete(context.Context, ...string) error {
	return u.err()
}

func (u *unavailableStore) Exists(context.Context, string) (bool, error) {
	return false, u.err()
}

func (u *unavailableStore) GetSet(context.Context, string, string) (string, bool, error) {
	return "", false, u.err()
}

func (u *unavailableStore) Reconnect(context.Context) error {
	u.reconnects.Add(1)
	return u.err()
}

func newTestStore(c *clock) *store.MemoryStore {
	s := store.NewMemoryStore(time.Second, zerolog.Nop())
	s.Now = c.Now
	return s
}

func newScheduler(st store.KeyedStore, c *clock, queue services.Enqueuer) *services.NotificationScheduler {
	s := services.NewNotificationScheduler(st, testWindow, queue, nil, zerolog.Nop())
	s.Now = c.Now
	return s
}

// harness wires a session controller over in-memory infrastructure.
type harness struct {
	clock       *clock
	store       *store.MemoryStore
	catalog     *repository.MemoryCatalog
	ledger      *repository.MemoryLedger
	liveness    *services.LivenessService
	scheduler   *services.NotificationScheduler
	queue       *recorder
	broadcaster *mocks.MockBroadcaster
	terminator  *mocks.MockTerminator
	session     *services.SessionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:       newClock(),
		catalog:     repository.NewMemoryCatalog(),
		ledger:      repository.NewMemoryLedger(),
		queue:       &recorder{},
		broadcaster: new(mocks.MockBroadcaster),
		terminator:  new(mocks.MockTerminator),
	}
	h.store = newTestStore(h.clock)
	h.liveness = services.NewLivenessService(35*time.Second, state_managers.NewEvictionSet(), zerolog.Nop())
	h.scheduler = newScheduler(h.store, h.clock, h.queue)
	require.NoError(t, h.scheduler.Start())
	t.Cleanup(func() { _ = h.scheduler.Stop() })

	h.broadcaster.On("BroadcastToDevice", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	h.broadcaster.On("BroadcastToAll", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	presence := services.NewPresenceRegistry(h.store, zerolog.Nop())
	h.session = services.NewSessionService(presence, h.liveness, h.scheduler, h.catalog, h.ledger,
		h.broadcaster, nil, zerolog.Nop())
	h.session.Terminator = h.terminator
	h.session.Now = h.clock.Now

	h.catalog.Put(models.Device{
		UDID:         "dev-1",
		Latitude:     48.423659,
		Longitude:    35.121916,
		RadiusMeters: 700,
		CompanyID:    "company-1",
		AlertEmails:  "ops@example.com",
	})
	return h
}

// fire advances past the debounce window and announces expired timers.
func (h *harness) fire() {
	h.clock.Advance(testWindow + time.Second)
	h.store.Sweep()
}

func (h *harness) history(t *testing.T, deviceID string) []models.HistoryEntry {
	t.Helper()
	entries, err := h.ledger.ListFor(context.Background(), deviceID, time.Time{})
	require.NoError(t, err)
	return entries
}
