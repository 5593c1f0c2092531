package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/internal/repository"
	"github.com/benmeehan/presence-engine/internal/services"
	"github.com/benmeehan/presence-engine/internal/state_managers"
	"github.com/benmeehan/presence-engine/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	insideLat, insideLon   = 48.423659, 35.121916
	outsideLat, outsideLon = 48.5, 35.2
)

func pendingKeyExists(t *testing.T, h *harness, kind constants.EventKind) bool {
	t.Helper()
	exists, err := h.store.Exists(context.Background(), services.ShadowKey(services.NotificationKey(kind, "dev-1")))
	require.NoError(t, err)
	return exists
}

func TestSessionService_ConnectKnownDevice(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.session.Connect(context.Background(), "c1", "dev-1"))

	entries := h.history(t, "dev-1")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsOnline)
	assert.True(t, entries[0].IsInLocation)
	assert.Equal(t, "company-1", entries[0].CompanyID)
	assert.Equal(t, insideLat, entries[0].CurrentLat)
	assert.Equal(t, 700.0, entries[0].ConfiguredRadius)

	assert.True(t, h.liveness.Tracked("c1"))
	assert.True(t, pendingKeyExists(t, h, constants.EventOnline))
	h.broadcaster.AssertCalled(t, "BroadcastToDevice", mock.Anything, "dev-1", constants.BroadcastDeviceUpdated, mock.Anything)

	h.fire()
	fired := h.queue.All()
	require.Len(t, fired, 1)
	assert.Equal(t, constants.EventOnline, fired[0].Event)
}

func TestSessionService_ConnectNewDeviceIsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.session.Connect(ctx, "c9", "dev-new"))

	device, err := h.catalog.GetByDeviceID(ctx, "dev-new")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.True(t, device.IsPending)

	entries := h.history(t, "dev-new")
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsOnline)

	h.broadcaster.AssertCalled(t, "BroadcastToAll", mock.Anything, constants.BroadcastDeviceAdded, mock.Anything)

	h.fire()
	assert.Empty(t, h.queue.All(), "new devices are not alerted on")
}

func TestSessionService_ReconnectEvictsPreviousConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.terminator.On("Terminate", "c1").Return(nil).Once()

	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))
	require.NoError(t, h.session.Connect(ctx, "c2", "dev-1"))

	assert.False(t, h.session.HeartbeatTick("c2"))
	assert.True(t, h.session.HeartbeatTick("c1"))
	assert.False(t, h.session.HeartbeatTick("c1"))
	h.terminator.AssertExpectations(t)

	// The closing socket of c1 must not take the device offline.
	require.NoError(t, h.session.Disconnect(ctx, "c1"))
	assert.Len(t, h.history(t, "dev-1"), 2)
	assert.False(t, pendingKeyExists(t, h, constants.EventOffline))

	current, ok, err := h.session.Presence.CurrentConnection(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c2", current)
}

func TestSessionService_SilentConnectionIsTerminated(t *testing.T) {
	h := newHarness(t)
	h.terminator.On("Terminate", "c1").Return(nil).Once()

	require.NoError(t, h.session.Connect(context.Background(), "c1", "dev-1"))
	assert.False(t, h.session.HeartbeatTick("c1"))

	h.liveness.Expire("c1")
	assert.True(t, h.session.HeartbeatTick("c1"))
	assert.False(t, h.session.HeartbeatTick("c1"))
	h.terminator.AssertExpectations(t)
}

func TestSessionService_SilentDeviceGoesOfflineOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.liveness = services.NewLivenessService(50*time.Millisecond, state_managers.NewEvictionSet(), zerolog.Nop())
	h.session.Liveness = h.liveness
	require.NoError(t, h.liveness.Start())
	t.Cleanup(func() { _ = h.liveness.Stop() })
	h.terminator.On("Terminate", "c1").Return(nil).Once()

	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))
	h.fire()
	require.Len(t, h.queue.All(), 1)

	// No pings: the liveness window elapses and the next tick terminates.
	assert.Eventually(t, func() bool {
		return h.session.HeartbeatTick("c1")
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.session.HeartbeatTick("c1"))
	h.terminator.AssertExpectations(t)

	require.NoError(t, h.session.Disconnect(ctx, "c1"))
	entries := h.history(t, "dev-1")
	require.Len(t, entries, 2)
	assert.False(t, entries[1].IsOnline)

	h.fire()
	fired := h.queue.All()
	require.Len(t, fired, 2)
	assert.Equal(t, constants.EventOffline, fired[1].Event)
	assert.Equal(t, "dev-1", fired[1].DeviceID)
	assert.Len(t, h.history(t, "dev-1"), 2)
	assert.Zero(t, h.liveness.PendingEvictions())
}

func TestSessionService_PingKeepsConnectionAlive(t *testing.T) {
	c := newClock()
	st := newTestStore(c)
	liveness := services.NewLivenessService(60*time.Millisecond, state_managers.NewEvictionSet(), zerolog.Nop())
	catalog := repository.NewMemoryCatalog()
	catalog.Put(models.Device{UDID: "dev-1"})
	session := services.NewSessionService(services.NewPresenceRegistry(st, zerolog.Nop()), liveness,
		newScheduler(st, c, &recorder{}), catalog, repository.NewMemoryLedger(), nil, nil, zerolog.Nop())

	require.NoError(t, session.Connect(context.Background(), "c1", "dev-1"))
	for i := 0; i < 10; i++ {
		time.Sleep(10 * time.Millisecond)
		session.ClientPing("c1")
	}
	liveness.Sweep()
	time.Sleep(20 * time.Millisecond)

	assert.False(t, session.HeartbeatTick("c1"))
}

func TestSessionService_DisconnectArmsOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))
	h.fire()
	require.NoError(t, h.session.Disconnect(ctx, "c1"))

	entries := h.history(t, "dev-1")
	require.Len(t, entries, 2)
	assert.False(t, entries[1].IsOnline)
	assert.False(t, h.liveness.Tracked("c1"))

	h.fire()
	fired := h.queue.All()
	require.Len(t, fired, 2)
	assert.Equal(t, constants.EventOffline, fired[1].Event)

	// Firing does not write history.
	assert.Len(t, h.history(t, "dev-1"), 2)
}

func TestSessionService_FlapWithinWindowIsSilent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))
	h.fire()
	require.Len(t, h.queue.All(), 1)

	require.NoError(t, h.session.Disconnect(ctx, "c1"))
	h.clock.Advance(20 * time.Second)
	require.NoError(t, h.session.Connect(ctx, "c2", "dev-1"))

	assert.False(t, pendingKeyExists(t, h, constants.EventOffline))
	assert.False(t, pendingKeyExists(t, h, constants.EventOnline))

	h.fire()
	assert.Len(t, h.queue.All(), 1)
	assert.Len(t, h.history(t, "dev-1"), 3)
}

func TestSessionService_UpdateLocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))
	h.fire()

	// Inside while inside writes nothing.
	require.NoError(t, h.session.UpdateLocation(ctx, "c1", insideLat, insideLon))
	assert.Len(t, h.history(t, "dev-1"), 1)

	require.NoError(t, h.session.UpdateLocation(ctx, "c1", outsideLat, outsideLon))
	entries := h.history(t, "dev-1")
	require.Len(t, entries, 2)
	assert.False(t, entries[1].IsInLocation)
	assert.Equal(t, outsideLat, entries[1].CurrentLat)
	assert.Equal(t, outsideLon, entries[1].CurrentLon)
	assert.True(t, pendingKeyExists(t, h, constants.EventOutOfLocation))

	// Every outside report is recorded, but the timer keeps running.
	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.session.UpdateLocation(ctx, "c1", outsideLat+0.01, outsideLon))
	assert.Len(t, h.history(t, "dev-1"), 3)
	ttl, ok, err := h.store.TTL(ctx, services.ShadowKey(services.NotificationKey(constants.EventOutOfLocation, "dev-1")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, ttl)

	// Returning cancels the pending alert.
	require.NoError(t, h.session.UpdateLocation(ctx, "c1", insideLat, insideLon))
	entries = h.history(t, "dev-1")
	require.Len(t, entries, 4)
	assert.True(t, entries[3].IsInLocation)
	assert.False(t, pendingKeyExists(t, h, constants.EventOutOfLocation))
	assert.False(t, pendingKeyExists(t, h, constants.EventInLocation))

	h.fire()
	assert.Len(t, h.queue.All(), 1)
}

func TestSessionService_UpdateLocationCarriesOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))
	require.NoError(t, h.session.ReassignOperator(ctx, "c1", "op-7"))

	require.NoError(t, h.session.UpdateLocation(ctx, "c1", outsideLat, outsideLon))
	entries := h.history(t, "dev-1")
	require.Len(t, entries, 3)
	require.NotNil(t, entries[2].OperatorID)
	assert.Equal(t, "op-7", *entries[2].OperatorID)
}

func TestSessionService_ReassignOperator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))

	require.NoError(t, h.session.ReassignOperator(ctx, "c1", ""))
	assert.Len(t, h.history(t, "dev-1"), 1, "clearing an unset operator is a no-op")

	require.NoError(t, h.session.ReassignOperator(ctx, "c1", "op-1"))
	require.NoError(t, h.session.ReassignOperator(ctx, "c1", "op-1"))
	entries := h.history(t, "dev-1")
	require.Len(t, entries, 2)
	require.NotNil(t, entries[1].OperatorID)
	assert.Equal(t, "op-1", *entries[1].OperatorID)

	require.NoError(t, h.session.ReassignOperator(ctx, "c1", ""))
	entries = h.history(t, "dev-1")
	require.Len(t, entries, 3)
	assert.Nil(t, entries[2].OperatorID)
}

func TestSessionService_UnregisteredConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.session.UpdateLocation(ctx, "ghost", insideLat, insideLon)
	assert.ErrorIs(t, err, services.ErrUnknownDevice)
	assert.True(t, services.IsDataError(err))

	err = h.session.ReassignOperator(ctx, "ghost", "op-1")
	assert.ErrorIs(t, err, services.ErrUnknownDevice)

	require.NoError(t, h.session.Disconnect(ctx, "ghost"))
}

func TestSessionService_StoreUnavailable(t *testing.T) {
	c := newClock()
	st := &unavailableStore{}
	liveness := services.NewLivenessService(time.Minute, state_managers.NewEvictionSet(), zerolog.Nop())
	session := services.NewSessionService(services.NewPresenceRegistry(st, zerolog.Nop()), liveness,
		newScheduler(st, c, &recorder{}), repository.NewMemoryCatalog(), repository.NewMemoryLedger(),
		nil, nil, zerolog.Nop())

	err := session.Connect(context.Background(), "c1", "dev-1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.False(t, services.IsDataError(err))
}

func TestSessionService_UpdateLocationUsesConfiguredRadius(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.session.Connect(ctx, "c1", "dev-1"))
	h.fire()

	// 48.419431,35.128651 is about 682 m from the configured center.
	require.NoError(t, h.session.UpdateLocation(ctx, "c1", 48.419431, 35.128651))
	assert.Len(t, h.history(t, "dev-1"), 1, "inside a 700 m radius")

	h.catalog.Put(models.Device{UDID: "dev-1", Latitude: insideLat, Longitude: insideLon, RadiusMeters: 680})
	require.NoError(t, h.session.UpdateLocation(ctx, "c1", 48.419431, 35.128651))
	entries := h.history(t, "dev-1")
	require.Len(t, entries, 2)
	assert.False(t, entries[1].IsInLocation)
}

func TestSessionService_ZeroRadiusIsOnlyTheCenter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.catalog.Put(models.Device{UDID: "dev-2", Latitude: 10, Longitude: 10})

	require.NoError(t, h.session.Connect(ctx, "c2", "dev-2"))
	h.fire()

	require.NoError(t, h.session.UpdateLocation(ctx, "c2", 10, 10))
	assert.Len(t, h.history(t, "dev-2"), 1)

	require.NoError(t, h.session.UpdateLocation(ctx, "c2", 10.01, 10))
	entries := h.history(t, "dev-2")
	require.Len(t, entries, 2)
	assert.False(t, entries[1].IsInLocation)

	exists, err := h.store.Exists(ctx, services.ShadowKey(services.NotificationKey(constants.EventOutOfLocation, "dev-2")))
	require.NoError(t, err)
	assert.True(t, exists)
}
