package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MockToken is a mock implementation of the mqtt.Token interface
type MockToken struct {
	mock.Mock
}

// Error returns the error associated with the token
func (m *MockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

// Wait waits for the token to complete
func (m *MockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

// Done channel returns the done channel for the token
func (m *MockToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

// WaitTimeout waits for the token to complete or timeout
func (m *MockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

// PendingToken returns a MockToken whose Done channel never closes, like a
// QoS 1 publish still waiting for its PUBACK.
func PendingToken() *MockToken {
	token := new(MockToken)
	token.On("Done").Return((<-chan struct{})(make(chan struct{})))
	token.On("Error").Return(nil).Maybe()
	token.On("Wait").Return(false).Maybe()
	return token
}
