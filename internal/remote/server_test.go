package remote_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossinput/internal/config"
	"crossinput/internal/health"
	"crossinput/internal/metrics"
	"crossinput/internal/remote"
	"crossinput/internal/script"
	"crossinput/pkg/crossinput"
)

type actuator struct {
	mu    sync.Mutex
	calls []string
	pos   crossinput.Point
}

func (a *actuator) record(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, fmt.Sprintf(format, args...))
}

func (a *actuator) IsKeyPressed(k crossinput.KeyCode) bool   { a.record("pressed %s", k); return false }
func (a *actuator) KeyDown(k crossinput.KeyCode)             { a.record("keydown %s", k) }
func (a *actuator) KeyUp(k crossinput.KeyCode)               { a.record("keyup %s", k) }
func (a *actuator) KeyPress(k crossinput.KeyCode)            { a.record("key %s", k) }
func (a *actuator) MouseButtonDown(b crossinput.MouseButton) { a.record("buttondown %s", b) }
func (a *actuator) MouseButtonUp(b crossinput.MouseButton)   { a.record("buttonup %s", b) }
func (a *actuator) MouseClick(b crossinput.MouseButton)      { a.record("click %s", b) }
func (a *actuator) GetCursorPosition() crossinput.Point      { return a.pos }
func (a *actuator) SetCursorPosition(p crossinput.Point)     { a.record("setpos %d %d", p.X, p.Y) }
func (a *actuator) MoveCursor(dx, dy int)                    { a.record("move %d %d", dx, dy) }

func (a *actuator) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func newServer(t *testing.T, mutate func(*config.RemoteConfig), opts ...remote.Option) (*httptest.Server, *actuator, config.RemoteConfig) {
	t.Helper()
	cfg := config.DefaultConfig().Remote
	if mutate != nil {
		mutate(&cfg)
	}
	act := &actuator{pos: crossinput.Point{X: 12, Y: 34}}
	srv := remote.NewServer(cfg, script.NewRunner(act, script.WithStepDelay(0)), opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, act, cfg
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, ts *httptest.Server, cfg config.RemoteConfig) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, cfg.Path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) remote.Reply {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	var reply remote.Reply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestStepIsExecuted(t *testing.T) {
	ts, act, cfg := newServer(t, nil)
	conn := dial(t, ts, cfg)

	reply := roundTrip(t, conn, `{"id":"1","step":{"action":"key_press","key":"a"}}`)
	assert.True(t, reply.OK)
	assert.Equal(t, "1", reply.ID)
	require.NotNil(t, reply.Result)
	assert.Equal(t, script.KeyPress, reply.Result.Action)

	reply = roundTrip(t, conn, `{"id":"2","step":{"action":"move","dx":3,"dy":-4,"repeat":2}}`)
	assert.True(t, reply.OK)

	assert.Equal(t, []string{"key A", "move 3 -4", "move 3 -4"}, act.Calls())
}

func TestQueryReturnsPosition(t *testing.T) {
	ts, _, cfg := newServer(t, nil)
	conn := dial(t, ts, cfg)

	reply := roundTrip(t, conn, `{"step":{"action":"position"}}`)
	require.True(t, reply.OK)
	require.NotNil(t, reply.Result.Position)
	assert.Equal(t, crossinput.Point{X: 12, Y: 34}, *reply.Result.Position)
}

func TestInvalidRequests(t *testing.T) {
	ts, act, cfg := newServer(t, nil)
	conn := dial(t, ts, cfg)

	tests := []struct {
		name string
		msg  string
		id   string
	}{
		{"not json", `{`, ""},
		{"missing step", `{"id":"a"}`, "a"},
		{"schema violation", `{"id":"b","step":{"action":"click"}}`, "b"},
		{"unknown key", `{"id":"c","step":{"action":"key_down","key":"hyper"}}`, "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := roundTrip(t, conn, tt.msg)
			assert.False(t, reply.OK)
			assert.Equal(t, tt.id, reply.ID)
			assert.NotEmpty(t, reply.Error)
		})
	}
	assert.Empty(t, act.Calls())
}

func TestBinaryMessageRejected(t *testing.T) {
	ts, _, cfg := newServer(t, nil)
	conn := dial(t, ts, cfg)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	var reply remote.Reply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "text")
}

func TestOversizedMessageClosesConnection(t *testing.T) {
	ts, _, cfg := newServer(t, func(c *config.RemoteConfig) { c.MaxMessageBytes = 64 })
	conn := dial(t, ts, cfg)

	big := `{"step":{"action":"position"},"id":"` + strings.Repeat("x", 128) + `"}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(big)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestStepRateLimit(t *testing.T) {
	ts, act, cfg := newServer(t, func(c *config.RemoteConfig) {
		c.StepsPerSecond = 0.001
		c.StepBurst = 2
	})
	conn := dial(t, ts, cfg)

	assert.True(t, roundTrip(t, conn, `{"step":{"action":"key_press","key":"a"}}`).OK)
	assert.True(t, roundTrip(t, conn, `{"step":{"action":"key_press","key":"b"}}`).OK)
	reply := roundTrip(t, conn, `{"id":"3","step":{"action":"key_press","key":"c"}}`)
	assert.False(t, reply.OK)
	assert.Equal(t, "3", reply.ID)
	assert.Equal(t, remote.ErrRateLimited.Error(), reply.Error)
	assert.Equal(t, []string{"key A", "key B"}, act.Calls())

	other := dial(t, ts, cfg)
	assert.True(t, roundTrip(t, other, `{"step":{"action":"key_press","key":"c"}}`).OK, "limits are per connection")
}

func TestMaxClients(t *testing.T) {
	ts, _, cfg := newServer(t, func(c *config.RemoteConfig) { c.MaxClients = 1 })
	first := dial(t, ts, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, cfg.Path), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	first.Close()
	assert.Eventually(t, func() bool {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, cfg.Path), nil)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestOriginCheck(t *testing.T) {
	ts, _, cfg := newServer(t, func(c *config.RemoteConfig) {
		c.AllowedOrigins = []string{"https://panel.example"}
	})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, cfg.Path), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://panel.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, cfg.Path), header)
	require.NoError(t, err)
	conn.Close()
}

func TestSameHostOriginByDefault(t *testing.T) {
	ts, _, cfg := newServer(t, nil)
	host := strings.TrimPrefix(ts.URL, "http://")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, cfg.Path), http.Header{"Origin": []string{"http://" + host}})
	require.NoError(t, err)
	conn.Close()

	_, _, err = websocket.DefaultDialer.Dial(wsURL(ts, cfg.Path), http.Header{"Origin": []string{"http://other:1"}})
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestAuxiliaryRoutes(t *testing.T) {
	ts, _, _ := newServer(t, nil)

	code, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"alive"`)

	code, body = get(t, ts.URL+"/schema.json")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(script.Schema()), body)

	code, _ = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code, "metrics are served only when configured")
}

func TestHealthRoutes(t *testing.T) {
	checker := health.NewChecker()
	checker.RegisterFunc("session", false, func(context.Context) health.CheckResult {
		return health.CheckResult{Status: health.StatusDegraded}
	})
	ts, _, _ := newServer(t, nil, remote.WithHealth(checker))

	code, _ := get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready outside Serve")

	checker.SetReady(true)
	code, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, ts.URL+"/health?full=true")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"degraded"`)
	assert.Contains(t, body, `"session"`)
}

func TestMetricsCountClientsAndSteps(t *testing.T) {
	m := metrics.NewInput()
	ts, _, cfg := newServer(t, nil, remote.WithMetrics(m))
	conn := dial(t, ts, cfg)

	roundTrip(t, conn, `{"step":{"action":"key_press","key":"a"}}`)
	roundTrip(t, conn, `{"step":{"action":"click"}}`)
	assert.Equal(t, int64(1), m.RemoteClients.Value())
	assert.Equal(t, uint64(2), m.RemoteSteps.Value())
	assert.Equal(t, uint64(1), m.RemoteStepErrors.Value())

	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "crossinput_remote_steps_total 2")

	conn.Close()
	assert.Eventually(t, func() bool { return m.RemoteClients.Value() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig().Remote
	checker := health.NewChecker()
	srv := remote.NewServer(cfg, script.NewRunner(&actuator{}), remote.WithHealth(checker))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+cfg.Path, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, checker.IsReady, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, checker.IsReady())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "open connections are closed on shutdown")
}
