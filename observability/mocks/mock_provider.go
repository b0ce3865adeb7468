package mocks

import (
	"github.com/stretchr/testify/mock"

	"netfetch/observability/types"
)

// MockProvider is a testify mock of types.Provider.
type MockProvider struct {
	mock.Mock
}

var _ types.Provider = (*MockProvider)(nil)

func (m *MockProvider) Logger(component string) types.Logger {
	args := m.Called(component)
	if l, ok := args.Get(0).(types.Logger); ok {
		return l
	}
	return nil
}

func (m *MockProvider) Metrics(component string) types.Metrics {
	args := m.Called(component)
	if mt, ok := args.Get(0).(types.Metrics); ok {
		return mt
	}
	return nil
}

func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}
