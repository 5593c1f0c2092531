package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benmeehan/presence-engine/internal/constants"
	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/internal/services"
	"github.com/benmeehan/presence-engine/internal/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchService_RoutesByEvent(t *testing.T) {
	d := services.NewDispatchService(zerolog.Nop())

	var mu sync.Mutex
	var got []constants.EventKind
	record := func(_ context.Context, p models.NotificationPayload) error {
		mu.Lock()
		got = append(got, p.Event)
		mu.Unlock()
		return nil
	}
	d.Handle(constants.EventOnline, record)
	d.Handle(constants.EventOffline, record)

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop() }()

	require.NoError(t, d.Enqueue(models.NotificationPayload{DeviceID: "dev-1", Event: constants.EventOffline}))
	require.NoError(t, d.Enqueue(models.NotificationPayload{DeviceID: "dev-1", Event: constants.EventOnline}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []constants.EventKind{constants.EventOffline, constants.EventOnline}, got)
	mu.Unlock()
}

func TestDispatchService_FailingItemDoesNotStopQueue(t *testing.T) {
	d := services.NewDispatchService(zerolog.Nop())

	done := make(chan string, 4)
	d.Handle(constants.EventOnline, func(_ context.Context, p models.NotificationPayload) error {
		if p.DeviceID == "bad" {
			return errors.New("smtp relay down")
		}
		done <- p.DeviceID
		return nil
	})
	d.Handle(constants.EventOffline, func(context.Context, models.NotificationPayload) error {
		panic("boom")
	})

	require.NoError(t, d.Start())
	defer func() { _ = d.Stop() }()

	require.NoError(t, d.Enqueue(models.NotificationPayload{DeviceID: "bad", Event: constants.EventOnline}))
	require.NoError(t, d.Enqueue(models.NotificationPayload{DeviceID: "x", Event: constants.EventOffline}))
	require.NoError(t, d.Enqueue(models.NotificationPayload{DeviceID: "y", Event: constants.EventInLocation}))
	require.NoError(t, d.Enqueue(models.NotificationPayload{DeviceID: "good", Event: constants.EventOnline}))

	select {
	case id := <-done:
		assert.Equal(t, "good", id)
	case <-time.After(2 * time.Second):
		t.Fatal("queue stalled after a failing item")
	}
}

func TestDispatchService_RejectsNilItem(t *testing.T) {
	d := services.NewDispatchService(zerolog.Nop())
	assert.ErrorIs(t, d.EnqueueItem(nil), utils.ErrNilWorkItem)
}

func TestDispatchService_StopDropsPending(t *testing.T) {
	d := services.NewDispatchService(zerolog.Nop())

	require.NoError(t, d.Enqueue(models.NotificationPayload{DeviceID: "dev-1", Event: constants.EventOnline}))
	assert.Equal(t, 1, d.Len())

	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop())

	assert.Zero(t, d.Len())
	assert.ErrorIs(t, d.Enqueue(models.NotificationPayload{DeviceID: "dev-1"}), utils.ErrQueueClosed)
}
