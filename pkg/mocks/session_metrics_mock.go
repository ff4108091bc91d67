package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockSessionMetrics is a mock implementation of session.Metrics interface.
type MockSessionMetrics struct {
	mock.Mock
}

func (m *MockSessionMetrics) SessionOpened(ctx context.Context, namespace string) {
	m.Called(namespace)
}

func (m *MockSessionMetrics) SessionClosed(ctx context.Context, namespace string) {
	m.Called(namespace)
}

func (m *MockSessionMetrics) Broadcast(ctx context.Context, namespace string, delivered int) {
	m.Called(namespace, delivered)
}

func (m *MockSessionMetrics) SendFailed(ctx context.Context, namespace string) {
	m.Called(namespace)
}
