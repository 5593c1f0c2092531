package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSession is a mock implementation of ws.Session
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Connect(ctx context.Context, connID, deviceID string) error {
	args := m.Called(ctx, connID, deviceID)
	return args.Error(0)
}

func (m *MockSession) Disconnect(ctx context.Context, connID string) error {
	args := m.Called(ctx, connID)
	return args.Error(0)
}

func (m *MockSession) UpdateLocation(ctx context.Context, connID string, lat, lon float64) error {
	args := m.Called(ctx, connID, lat, lon)
	return args.Error(0)
}

func (m *MockSession) ReassignOperator(ctx context.Context, connID, operatorID string) error {
	args := m.Called(ctx, connID, operatorID)
	return args.Error(0)
}

func (m *MockSession) ClientPing(connID string) {
	m.Called(connID)
}

func (m *MockSession) HeartbeatTick(connID string) bool {
	args := m.Called(connID)
	return args.Bool(0)
}
