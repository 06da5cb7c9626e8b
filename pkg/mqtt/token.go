package mqtt

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// completedToken is an mqtt.Token that is done from the moment it is created.
type completedToken struct {
	err  error
	done chan struct{}
}

// NewCompletedToken returns a token that is already complete with err.
func NewCompletedToken(err error) mqtt.Token {
	done := make(chan struct{})
	close(done)
	return &completedToken{err: err, done: done}
}

func (t *completedToken) Wait() bool                       { return true }
func (t *completedToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *completedToken) Done() <-chan struct{}            { return t.done }
func (t *completedToken) Error() error                     { return t.err }

// OnComplete calls callback exactly once, with the token's error, after the token completes.
// It never blocks the caller.
func OnComplete(token mqtt.Token, callback func(error)) {
	go func() {
		<-token.Done()
		callback(token.Error())
	}()
}

// ImmediateError returns the token's error if it has already completed, without waiting.
// A pending or successful token yields nil.
func ImmediateError(token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	default:
		return nil
	}
}
