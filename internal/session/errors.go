package session

import (
	"errors"
	"fmt"
)

// Handshake failure taxonomy. Every failure is wrapped in a *StepError that
// records the state the session was in.
var (
	ErrBrokerUnreachable  = errors.New("session: permission broker unreachable")
	ErrHandshakeTimeout   = errors.New("session: handshake step timed out")
	ErrPermissionDenied   = errors.New("session: permission denied")
	ErrChannelSetupFailed = errors.New("session: channel setup failed")
	ErrNoCapableDevice    = errors.New("session: no capable device resumed")
	ErrInvalidRegion      = errors.New("session: invalid region")
)

// StepError is the reason a Session moved to Failed.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
