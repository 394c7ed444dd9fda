package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crossinput/internal/ei"
	"crossinput/internal/logging"
)

// Config controls the handshake.
type Config struct {
	// AppName is announced to the compositor on the channel.
	AppName string
	// TokenPrefix prefixes every handle and session token.
	TokenPrefix string
	// DeviceTypes is the SelectDevices types mask.
	DeviceTypes uint32

	CreateSessionTimeout time.Duration
	SelectDevicesTimeout time.Duration
	// StartTimeout covers the user consent dialog.
	StartTimeout time.Duration
	// PollInterval is one iteration of the bus loop while waiting.
	PollInterval time.Duration

	// DiscoveryBudget bounds device discovery after the channel connects.
	DiscoveryBudget time.Duration
	DiscoverySlice  time.Duration
}

// DefaultConfig returns the stock handshake timings.
func DefaultConfig() Config {
	return Config{
		AppName:              "crossinput",
		TokenPrefix:          "crossinput",
		DeviceTypes:          DeviceTypeKeyboard | DeviceTypePointer,
		CreateSessionTimeout: 5 * time.Second,
		SelectDevicesTimeout: 5 * time.Second,
		StartTimeout:         60 * time.Second,
		PollInterval:         50 * time.Millisecond,
		DiscoveryBudget:      10 * time.Second,
		DiscoverySlice:       100 * time.Millisecond,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock used for deadlines.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithTokens replaces the token generator.
func WithTokens(gen func() string) Option {
	return func(s *Session) { s.token = gen }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.log = l }
}

// Session is one handshake with the permission broker and, once Ready, the
// injection channel it produced.
type Session struct {
	cfg        Config
	dial       Dialer
	newChannel ChannelFactory
	clock      Clock
	token      func() string
	log        *logging.Logger

	state       State
	err         error
	broker      Broker
	sessionPath string
	channel     Channel
	registry    *Registry
	cursor      CursorState
	releaseOnce sync.Once
}

// New creates an Idle session.
func New(cfg Config, dial Dialer, newChannel ChannelFactory, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		dial:       dial,
		newChannel: newChannel,
		clock:      systemClock{},
		log:        logging.Default().WithComponent("session"),
	}
	s.token = s.newToken
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) newToken() string {
	return s.cfg.TokenPrefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// State returns the current handshake state.
func (s *Session) State() State { return s.state }

// Err returns the failure reason once the session is Failed.
func (s *Session) Err() error { return s.err }

// Establish runs the handshake from Idle to Ready or Failed. It blocks for
// at most the sum of the step timeouts plus the discovery budget.
func (s *Session) Establish() error {
	if s.state != Idle {
		return fmt.Errorf("session: establish in state %s", s.state)
	}

	s.transition(CreatingSession)
	broker, err := s.dial()
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrBrokerUnreachable, err))
	}
	s.broker = broker

	sessionToken := s.token()
	s.sessionPath = broker.SessionPath(sessionToken)
	resp, err := s.request(s.cfg.CreateSessionTimeout, func(handle string) (string, error) {
		return broker.CreateSession(handle, sessionToken)
	})
	if err != nil {
		return s.fail(err)
	}
	if handle, ok := resp.Results["session_handle"].(string); ok && handle != "" {
		s.sessionPath = handle
	}

	s.transition(SelectingDevices)
	if _, err := s.request(s.cfg.SelectDevicesTimeout, func(handle string) (string, error) {
		return broker.SelectDevices(s.sessionPath, handle, s.cfg.DeviceTypes)
	}); err != nil {
		return s.fail(err)
	}

	s.transition(Starting)
	resp, err = s.request(s.cfg.StartTimeout, func(handle string) (string, error) {
		return broker.Start(s.sessionPath, handle)
	})
	if err != nil {
		return s.fail(err)
	}
	if devices, ok := resp.Results["devices"].(uint32); ok && devices&s.cfg.DeviceTypes == 0 {
		return s.fail(fmt.Errorf("%w: no device types granted", ErrPermissionDenied))
	}

	s.transition(ConnectingChannel)
	fd, err := broker.ConnectToEIS(s.sessionPath)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrChannelSetupFailed, err))
	}
	ch, err := s.newChannel(fd, s.cfg.AppName)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrChannelSetupFailed, err))
	}
	s.channel = ch
	s.registry = NewRegistry(ch)
	if err := s.discover(); err != nil {
		return s.fail(err)
	}

	s.transition(Ready)
	return nil
}

// request issues one broker request and waits for its response. The
// subscription exists and the deadline runs before call is made.
func (s *Session) request(timeout time.Duration, call func(handle string) (string, error)) (Response, error) {
	handle := s.token()
	pending := &PendingRequest{Path: s.broker.RequestPath(handle)}
	sub, err := s.broker.Subscribe(pending.Path)
	if err != nil {
		return Response{}, fmt.Errorf("%w: subscribe: %v", ErrBrokerUnreachable, err)
	}
	defer sub.Close()

	pending.Deadline = s.clock.Now().Add(timeout)
	actual, err := call(handle)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrBrokerUnreachable, err)
	}
	if actual != "" && actual != pending.Path {
		s.log.Warn("broker returned unexpected request path", "expected", pending.Path, "actual", actual)
	}
	return pending.Wait(sub, s.clock, s.cfg.PollInterval)
}

// discover pumps the channel until both a keyboard and a pointer are
// resumed or the budget runs out. One resumed device is enough to proceed.
func (s *Session) discover() error {
	deadline := s.clock.Now().Add(s.cfg.DiscoveryBudget)
	for {
		if err := s.drainEvents(); err != nil {
			return fmt.Errorf("%w: %v", ErrChannelSetupFailed, err)
		}
		if reason := s.registry.Disconnected(); reason != "" {
			return fmt.Errorf("%w: %s", ErrChannelSetupFailed, reason)
		}
		if s.registry.Complete() || !s.clock.Now().Before(deadline) {
			break
		}
		ready, err := s.channel.Poll(s.cfg.DiscoverySlice)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrChannelSetupFailed, err)
		}
		if ready {
			if err := s.channel.Dispatch(); err != nil && !errors.Is(err, ei.ErrDisconnected) {
				return fmt.Errorf("%w: %v", ErrChannelSetupFailed, err)
			}
		}
	}
	if !s.registry.Usable() {
		return ErrNoCapableDevice
	}
	return nil
}

func (s *Session) drainEvents() error {
	for {
		ev, ok := s.channel.NextEvent()
		if !ok {
			return nil
		}
		if err := s.registry.OnEvent(ev); err != nil {
			return err
		}
	}
}

// Drain processes whatever the channel has queued without blocking.
func (s *Session) Drain() error {
	if s.channel == nil {
		return nil
	}
	ready, err := s.channel.Poll(0)
	if err == nil && ready {
		err = s.channel.Dispatch()
	}
	if derr := s.drainEvents(); err == nil {
		err = derr
	}
	return err
}

// Valid reports whether the session can still carry input. Paused devices
// keep a session valid; a disconnect or the loss of every device does not.
func (s *Session) Valid() bool {
	return s.state == Ready &&
		s.channel != nil &&
		s.registry.Disconnected() == "" &&
		s.registry.HasDevices()
}

// Channel returns the injection channel, nil unless Ready.
func (s *Session) Channel() Channel {
	if s.state != Ready {
		return nil
	}
	return s.channel
}

// Keyboard returns the keyboard device, nil if there is none.
func (s *Session) Keyboard() *Device {
	if s.registry == nil {
		return nil
	}
	return s.registry.Keyboard()
}

// Pointer returns the pointer device, nil if there is none.
func (s *Session) Pointer() *Device {
	if s.registry == nil {
		return nil
	}
	return s.registry.Pointer()
}

// Cursor returns the fallback cursor state owned by this session.
func (s *Session) Cursor() *CursorState { return &s.cursor }

// Close releases the channel and the broker session. It is safe to call
// more than once and on a Failed session.
func (s *Session) Close() error {
	var err error
	s.releaseOnce.Do(func() { err = s.release() })
	return err
}

func (s *Session) release() error {
	var errs []error
	if s.channel != nil {
		errs = append(errs, s.channel.Close())
	}
	if s.broker != nil {
		if s.sessionPath != "" {
			errs = append(errs, s.broker.CloseSession(s.sessionPath))
		}
		errs = append(errs, s.broker.Close())
	}
	s.log.Debug("session released", "state", s.state)
	return errors.Join(errs...)
}

func (s *Session) transition(next State) {
	s.log.Debug("handshake", "from", s.state, "to", next)
	s.state = next
}

func (s *Session) fail(err error) error {
	se := &StepError{Step: s.state, Err: err}
	s.err = se
	s.log.Error("handshake failed", "step", s.state, "error", err)
	s.state = Failed
	s.releaseOnce.Do(func() {
		if rerr := s.release(); rerr != nil {
			s.log.Debug("release after failure", "error", rerr)
		}
	})
	return se
}
