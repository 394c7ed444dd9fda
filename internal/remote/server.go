// Package remote exposes the script runner over a websocket. Each text
// message carries one step; the server runs it and answers with the result.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crossinput/internal/config"
	"crossinput/internal/health"
	"crossinput/internal/logging"
	"crossinput/internal/metrics"
	"crossinput/internal/script"
)

// Request is one client message.
type Request struct {
	ID   string          `json:"id,omitempty"`
	Step json.RawMessage `json:"step"`
}

// Reply answers one Request.
type Reply struct {
	ID     string         `json:"id,omitempty"`
	OK     bool           `json:"ok"`
	Result *script.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

const writeTimeout = 5 * time.Second

// Server runs steps received over websocket connections. Steps from all
// connections are executed one at a time.
type Server struct {
	cfg            config.RemoteConfig
	runner         *script.Runner
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	health         *health.Checker
	metrics        *metrics.Input
	clients        clientLimiter
	now            func() time.Time
	log            *logging.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	run   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithHealth serves the probes of c. Without it the server has a checker
// with no components.
func WithHealth(c *health.Checker) Option {
	return func(s *Server) { s.health = c }
}

// WithMetrics counts clients and steps in m and serves it on /metrics.
func WithMetrics(m *metrics.Input) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer returns a server for cfg that executes steps with runner.
func NewServer(cfg config.RemoteConfig, runner *script.Runner, opts ...Option) *Server {
	s := &Server{
		cfg:            cfg,
		runner:         runner,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		conns:          make(map[*websocket.Conn]struct{}),
		clients:        clientLimiter{max: cfg.MaxClients},
		now:            time.Now,
		log:            logging.Default().WithComponent("remote"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = health.NewChecker()
	}
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	mux.Handle("/healthz", s.health.LivenessHandler())
	mux.Handle("/readyz", s.health.ReadinessHandler())
	mux.Handle("/health", s.health.HealthHandler())
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Registry().HTTPHandler())
	}
	mux.HandleFunc("/schema.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/schema+json")
		w.Write(script.Schema())
	})
	return mux
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("remote control listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	s.health.SetReady(true)
	defer s.health.SetReady(false)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// Hijacked websocket connections are not closed by Shutdown.
	s.closeAll()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if len(s.allowedOrigins) > 0 {
		return s.allowedHosts[parsed.Host]
	}
	return parsed.Host == r.Host
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.clients.Acquire() {
		s.log.Warn("client rejected", "remote", r.RemoteAddr, "reason", "too many clients")
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	defer s.clients.Release()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.track(conn, true)
	if s.metrics != nil {
		s.metrics.ClientConnected()
	}
	defer func() {
		s.track(conn, false)
		if s.metrics != nil {
			s.metrics.ClientDisconnected()
		}
		conn.Close()
	}()

	s.log.Info("client connected", "remote", r.RemoteAddr)
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	limiter := newStepLimiter(s.cfg.StepsPerSecond, s.cfg.StepBurst, s.now)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", "remote", r.RemoteAddr, "error", err)
			}
			break
		}

		var reply Reply
		if kind != websocket.TextMessage {
			reply = Reply{Error: "expected a text message"}
		} else {
			reply = s.handle(r.Context(), data, limiter)
		}
		if s.metrics != nil {
			s.metrics.Step(reply.OK)
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			s.log.Debug("write failed", "remote", r.RemoteAddr, "error", err)
			break
		}
	}
	s.log.Info("client disconnected", "remote", r.RemoteAddr)
}

// handle decodes and runs one request.
func (s *Server) handle(ctx context.Context, data []byte, limiter *stepLimiter) Reply {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Reply{Error: fmt.Sprintf("decode request: %v", err)}
	}
	if !limiter.Allow() {
		return Reply{ID: req.ID, Error: ErrRateLimited.Error()}
	}
	if len(req.Step) == 0 {
		return Reply{ID: req.ID, Error: "missing step"}
	}
	step, err := script.ParseStep(req.Step)
	if err != nil {
		return Reply{ID: req.ID, Error: err.Error()}
	}

	s.run.Lock()
	res, err := s.runner.Step(ctx, step)
	s.run.Unlock()
	if err != nil {
		return Reply{ID: req.ID, Error: err.Error()}
	}
	return Reply{ID: req.ID, OK: true, Result: &res}
}

func (s *Server) track(conn *websocket.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
}
