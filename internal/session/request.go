package session

import (
	"fmt"
	"time"
)

// Outcome of a PendingRequest.
type Outcome int

const (
	Pending Outcome = iota
	Approved
	Denied
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case TimedOut:
		return "timed-out"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// PendingRequest tracks one outstanding broker request. The subscription is
// registered and the deadline fixed before the request is issued, so a
// response can never arrive unobserved.
type PendingRequest struct {
	Path     string
	Deadline time.Time
	Outcome  Outcome
	Response Response
}

// Wait runs the bus loop in slices of interval until a response arrives or
// the deadline passes. The deadline is checked after every slice, so a
// timeout is reported no earlier than Deadline and no later than
// Deadline+interval.
func (p *PendingRequest) Wait(sub Subscription, clock Clock, interval time.Duration) (Response, error) {
	for p.Outcome == Pending {
		if resp, ok := sub.Next(interval); ok {
			p.Response = resp
			if resp.Code == ResponseSuccess {
				p.Outcome = Approved
				break
			}
			p.Outcome = Denied
			return resp, fmt.Errorf("%w: %s responded %d", ErrPermissionDenied, p.Path, resp.Code)
		}
		if !clock.Now().Before(p.Deadline) {
			p.Outcome = TimedOut
			return Response{}, fmt.Errorf("%w: no response on %s", ErrHandshakeTimeout, p.Path)
		}
	}
	return p.Response, nil
}
