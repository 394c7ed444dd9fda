package metrics

import (
	"time"

	"crossinput/internal/session"
)

// Input holds the metrics of one crossinput process.
type Input struct {
	registry *Registry

	HandshakesReady   *Counter
	HandshakesFailed  *Counter
	HandshakeDuration *Histogram
	SessionState      *Gauge

	RemoteClients     *Gauge
	RemoteSteps       *Counter
	RemoteStepErrors  *Counter
	RemoteConnections *Counter
}

// NewInput registers the crossinput metrics on a fresh registry.
func NewInput() *Input {
	r := NewRegistry("crossinput")
	return &Input{
		registry: r,

		HandshakesReady: r.RegisterCounter("handshakes_total",
			"Completed permission handshakes by result", Labels{"result": "ready"}),
		HandshakesFailed: r.RegisterCounter("handshakes_total",
			"Completed permission handshakes by result", Labels{"result": "failed"}),
		HandshakeDuration: r.RegisterHistogram("handshake_duration_seconds",
			"Time from CreateSession to a terminal state", nil, HandshakeBuckets),
		SessionState: r.RegisterGauge("session_state",
			"Handshake state of the last session (0 idle to 6 failed)", nil),

		RemoteClients: r.RegisterGauge("remote_clients",
			"Connected websocket clients", nil),
		RemoteConnections: r.RegisterCounter("remote_connections_total",
			"Accepted websocket connections", nil),
		RemoteSteps: r.RegisterCounter("remote_steps_total",
			"Steps received over the websocket", nil),
		RemoteStepErrors: r.RegisterCounter("remote_step_errors_total",
			"Remote steps that were rejected or failed", nil),
	}
}

// Registry returns the underlying registry.
func (m *Input) Registry() *Registry {
	return m.registry
}

// Handshake records the outcome of one handshake.
func (m *Input) Handshake(s *session.Session, elapsed time.Duration) {
	state := s.State()
	if state == session.Ready {
		m.HandshakesReady.Inc()
	} else {
		m.HandshakesFailed.Inc()
	}
	m.HandshakeDuration.ObserveDuration(elapsed)
	m.SessionState.Set(int64(state))
}

// Operation counts one public input operation.
func (m *Input) Operation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.registry.RegisterCounter("operations_total",
		"Input operations by name and result", Labels{"op": op, "result": result}).Inc()
}

// ClientConnected records a new websocket client.
func (m *Input) ClientConnected() {
	m.RemoteConnections.Inc()
	m.RemoteClients.Inc()
}

// ClientDisconnected records a websocket client leaving.
func (m *Input) ClientDisconnected() {
	m.RemoteClients.Dec()
}

// Step counts one remote step.
func (m *Input) Step(ok bool) {
	m.RemoteSteps.Inc()
	if !ok {
		m.RemoteStepErrors.Inc()
	}
}
