// File: internal/mocks/mocks.go
package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/tabquery/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Query() config.QueryConfig {
	args := m.Called()
	return args.Get(0).(config.QueryConfig)
}

func (m *MockConfig) Static() config.StaticConfig {
	args := m.Called()
	return args.Get(0).(config.StaticConfig)
}

func (m *MockConfig) Output() config.OutputConfig {
	args := m.Called()
	return args.Get(0).(config.OutputConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserBackend(b config.Backend) { m.Called(b) }
func (m *MockConfig) SetBrowserTab(pattern string)       { m.Called(pattern) }
func (m *MockConfig) SetQueryYieldHostMatches(b bool)    { m.Called(b) }
func (m *MockConfig) SetQueryDescendLightDOM(b bool)     { m.Called(b) }
func (m *MockConfig) SetOutputFormat(format string)      { m.Called(format) }
