package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossinput/internal/session"
	"crossinput/internal/session/sessiontest"
)

type scriptedSubscription struct {
	clock *sessiontest.Clock
	after int
	resp  session.Response
	polls int
}

func (s *scriptedSubscription) Next(timeout time.Duration) (session.Response, bool) {
	s.polls++
	if s.polls > s.after {
		return s.resp, true
	}
	s.clock.Advance(timeout)
	return session.Response{}, false
}

func (s *scriptedSubscription) Close() {}

func TestPendingRequestApproved(t *testing.T) {
	clock := sessiontest.NewClock()
	sub := &scriptedSubscription{clock: clock, after: 3, resp: session.Response{Results: map[string]any{"devices": uint32(3)}}}
	p := &session.PendingRequest{Path: "/r/1", Deadline: clock.Now().Add(time.Second)}

	resp, err := p.Wait(sub, clock, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, session.Approved, p.Outcome)
	assert.Equal(t, uint32(3), resp.Results["devices"])
	assert.Equal(t, 4, sub.polls)
}

func TestPendingRequestDenied(t *testing.T) {
	clock := sessiontest.NewClock()
	sub := &scriptedSubscription{clock: clock, resp: session.Response{Code: session.ResponseCancelled}}
	p := &session.PendingRequest{Path: "/r/1", Deadline: clock.Now().Add(time.Second)}

	_, err := p.Wait(sub, clock, 50*time.Millisecond)
	assert.ErrorIs(t, err, session.ErrPermissionDenied)
	assert.Equal(t, session.Denied, p.Outcome)
}

func TestPendingRequestResponseBeatsDeadline(t *testing.T) {
	clock := sessiontest.NewClock()
	sub := &scriptedSubscription{clock: clock, after: 19}
	p := &session.PendingRequest{Path: "/r/1", Deadline: clock.Now().Add(time.Second)}

	_, err := p.Wait(sub, clock, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, session.Approved, p.Outcome)
}

func TestPendingRequestTimeout(t *testing.T) {
	clock := sessiontest.NewClock()
	sub := &scriptedSubscription{clock: clock, after: 1 << 30}
	start := clock.Now()
	p := &session.PendingRequest{Path: "/r/1", Deadline: start.Add(time.Second)}

	_, err := p.Wait(sub, clock, 30*time.Millisecond)
	require.ErrorIs(t, err, session.ErrHandshakeTimeout)
	assert.Equal(t, session.TimedOut, p.Outcome)
	elapsed := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, time.Second)
	assert.Less(t, elapsed, time.Second+30*time.Millisecond)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "connecting-channel", session.ConnectingChannel.String())
	assert.Equal(t, "State(42)", session.State(42).String())
	assert.True(t, session.Failed.Terminal())
	assert.False(t, session.Starting.Terminal())
	assert.Equal(t, "timed-out", session.TimedOut.String())

	err := &session.StepError{Step: session.Starting, Err: session.ErrPermissionDenied}
	assert.Equal(t, "starting: session: permission denied", err.Error())
}
