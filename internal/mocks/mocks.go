// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/fetchproxy/internal/config"
	"github.com/xkilldash9x/fetchproxy/internal/fetch"
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

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHost(h string)               { m.Called(h) }
func (m *MockConfig) SetBrowserPort(p int)                  { m.Called(p) }
func (m *MockConfig) SetBrowserSettleDelay(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetServerListenAddr(a string)          { m.Called(a) }

// -- Browser Mocks --

// MockDialer mocks fetch.Dialer.
type MockDialer struct {
	mock.Mock
}

var _ fetch.Dialer = (*MockDialer)(nil)

func (m *MockDialer) Dial(ctx context.Context, endpoint string) (fetch.Tab, error) {
	args := m.Called(ctx, endpoint)
	var tab fetch.Tab
	if t := args.Get(0); t != nil {
		tab = t.(fetch.Tab)
	}
	return tab, args.Error(1)
}

// MockTab mocks fetch.Tab.
type MockTab struct {
	mock.Mock
}

var _ fetch.Tab = (*MockTab)(nil)

func (m *MockTab) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockTab) Evaluate(ctx context.Context, script string) (string, error) {
	args := m.Called(ctx, script)
	return args.String(0), args.Error(1)
}

func (m *MockTab) Close() error {
	args := m.Called()
	return args.Error(0)
}
