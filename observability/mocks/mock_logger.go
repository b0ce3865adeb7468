// Package mocks provides testify mocks for the observability contracts.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"netfetch/observability/types"
)

// MockLogger is a testify mock of types.Logger.
type MockLogger struct {
	mock.Mock
}

var _ types.Logger = (*MockLogger)(nil)

// NewPermissiveLogger returns a MockLogger that accepts any call.
func NewPermissiveLogger() *MockLogger {
	m := &MockLogger{}
	m.On("Info", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("Warn", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("Debug", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("Error", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("WithFields", mock.Anything).Return(m).Maybe()
	return m
}

func (m *MockLogger) Info(ctx context.Context, msg string, fields types.Fields) {
	m.Called(ctx, msg, fields)
}

func (m *MockLogger) Error(ctx context.Context, msg string, err error, fields types.Fields) {
	m.Called(ctx, msg, err, fields)
}

func (m *MockLogger) Warn(ctx context.Context, msg string, fields types.Fields) {
	m.Called(ctx, msg, fields)
}

func (m *MockLogger) Debug(ctx context.Context, msg string, fields types.Fields) {
	m.Called(ctx, msg, fields)
}

// WithFields returns the configured logger, or the mock itself.
func (m *MockLogger) WithFields(fields types.Fields) types.Logger {
	args := m.Called(fields)
	if l, ok := args.Get(0).(types.Logger); ok {
		return l
	}
	return m
}
