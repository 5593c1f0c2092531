package mocks

import (
	"context"

	"github.com/benmeehan/presence-engine/internal/models"
	"github.com/benmeehan/presence-engine/pkg/location"
	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendAlert(ctx context.Context, alert models.AlertEmail) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

// MockBroadcaster is a mock implementation of services.Broadcaster
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) BroadcastToDevice(ctx context.Context, deviceID, event string, entry *models.HistoryEntry) error {
	args := m.Called(ctx, deviceID, event, entry)
	return args.Error(0)
}

func (m *MockBroadcaster) BroadcastToAll(ctx context.Context, event string, entry *models.HistoryEntry) error {
	args := m.Called(ctx, event, entry)
	return args.Error(0)
}

// MockTerminator is a mock implementation of services.ConnectionTerminator
type MockTerminator struct {
	mock.Mock
}

func (m *MockTerminator) Terminate(connID string) error {
	args := m.Called(connID)
	return args.Error(0)
}

// MockAddressResolver is a mock implementation of location.AddressResolver
type MockAddressResolver struct {
	mock.Mock
}

func (m *MockAddressResolver) ResolveAddress(ctx context.Context, lat, lon float64) (location.Address, error) {
	args := m.Called(ctx, lat, lon)
	return args.Get(0).(location.Address), args.Error(1)
}
