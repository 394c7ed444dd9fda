package metrics

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossinput/internal/session"
	"crossinput/internal/session/sessiontest"
)

func TestLabelsString(t *testing.T) {
	assert.Equal(t, "", Labels(nil).String())
	assert.Equal(t, `{a="1",b="2"}`, Labels{"b": "2", "a": "1"}.String())
	assert.Equal(t, `{le="0.5"}`, Labels(nil).with("le", "0.5"))
	assert.Equal(t, `{op="key",le="+Inf"}`, Labels{"op": "key"}.with("le", "+Inf"))
}

func TestRegisterReturnsExisting(t *testing.T) {
	r := NewRegistry("x")
	c1 := r.RegisterCounter("c", "help", Labels{"a": "1"})
	c2 := r.RegisterCounter("c", "help", Labels{"a": "1"})
	c3 := r.RegisterCounter("c", "help", Labels{"a": "2"})
	assert.Same(t, c1, c2)
	assert.NotSame(t, c1, c3)
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry("")
	h := r.RegisterHistogram("latency", "help", nil, []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.1)
	h.Observe(0.5)
	h.Observe(3)

	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 3.65, h.Sum(), 1e-9)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `latency_bucket{le="0.1"} 2`)
	assert.Contains(t, out, `latency_bucket{le="1"} 3`)
	assert.Contains(t, out, `latency_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "latency_count 4")
}

func TestWritePrometheusGroupsSeries(t *testing.T) {
	r := NewRegistry("ci")
	r.RegisterCounter("ops_total", "Ops", Labels{"op": "b"}).Add(2)
	r.RegisterCounter("ops_total", "Ops", Labels{"op": "a"}).Inc()
	r.RegisterGauge("clients", "Clients", nil).Set(3)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Equal(t, 1, strings.Count(out, "# TYPE ci_ops_total counter"))
	assert.Less(t, strings.Index(out, `ci_ops_total{op="a"} 1`), strings.Index(out, `ci_ops_total{op="b"} 2`))
	assert.Contains(t, out, "# TYPE ci_clients gauge\nci_clients 3\n")
}

func TestHTTPHandler(t *testing.T) {
	r := NewRegistry("ci")
	r.RegisterCounter("hits_total", "Hits", nil).Inc()

	rec := httptest.NewRecorder()
	r.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, "text/plain; version=0.0.4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "ci_hits_total 1")
}

func TestInputHandshake(t *testing.T) {
	clock := sessiontest.NewClock()
	broker := sessiontest.NewBroker(clock)
	channel := sessiontest.NewChannel(clock, sessiontest.Desktop(true)...)
	m := NewInput()

	ready := session.New(session.DefaultConfig(), broker.Dialer(), channel.Factory(), session.WithClock(clock))
	require.NoError(t, ready.Establish())
	m.Handshake(ready, 200*time.Millisecond)

	broker.Responses[sessiontest.Start] = session.ResponseCancelled
	failed := session.New(session.DefaultConfig(), broker.Dialer(), channel.Factory(), session.WithClock(clock))
	require.Error(t, failed.Establish())
	m.Handshake(failed, time.Second)

	assert.Equal(t, uint64(1), m.HandshakesReady.Value())
	assert.Equal(t, uint64(1), m.HandshakesFailed.Value())
	assert.Equal(t, uint64(2), m.HandshakeDuration.Count())
	assert.Equal(t, int64(session.Failed), m.SessionState.Value())
}

func TestInputOperationsAndRemote(t *testing.T) {
	m := NewInput()
	m.Operation("key_down", nil)
	m.Operation("key_down", nil)
	m.Operation("key_down", errors.New("boom"))
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	m.Step(true)
	m.Step(false)

	var buf bytes.Buffer
	require.NoError(t, m.Registry().WritePrometheus(&buf))
	out := buf.String()
	assert.Contains(t, out, `crossinput_operations_total{op="key_down",result="ok"} 2`)
	assert.Contains(t, out, `crossinput_operations_total{op="key_down",result="error"} 1`)
	assert.Equal(t, int64(1), m.RemoteClients.Value())
	assert.Equal(t, uint64(2), m.RemoteConnections.Value())
	assert.Equal(t, uint64(2), m.RemoteSteps.Value())
	assert.Equal(t, uint64(1), m.RemoteStepErrors.Value())
}
