package session

import "fmt"

// State is the handshake state of a Session.
type State int

// Handshake states, in order. Failed is absorbing and reachable from every
// state before Ready.
const (
	Idle State = iota
	CreatingSession
	SelectingDevices
	Starting
	ConnectingChannel
	Ready
	Failed
)

var stateNames = [...]string{
	Idle:              "idle",
	CreatingSession:   "creating-session",
	SelectingDevices:  "selecting-devices",
	Starting:          "starting",
	ConnectingChannel: "connecting-channel",
	Ready:             "ready",
	Failed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Ready || s == Failed
}
