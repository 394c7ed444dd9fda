// Package crossinput simulates keyboard and mouse input and reads pointer and
// key state through one API on X11 and on Wayland compositors.
//
// On Wayland, input is injected over an emulated-input channel obtained from
// the desktop portal; the first operation triggers the permission handshake.
// Key and pointer state is read through X11 or XWayland when a display is
// reachable. None of the operations report failures: an operation that cannot
// be carried out is logged at debug level and does nothing.
package crossinput

import (
	"errors"
	"fmt"

	"crossinput/internal/config"
	"crossinput/internal/inject"
	"crossinput/internal/keycode"
	"crossinput/internal/logging"
	"crossinput/internal/metrics"
	"crossinput/internal/platform"
	"crossinput/internal/portal"
	"crossinput/internal/session"
	"crossinput/internal/x11"
)

// Point is a position in screen coordinates.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// injector is the operation set shared by the mediated and direct backends.
type injector interface {
	KeyDown(keycode.KeyCode) error
	KeyUp(keycode.KeyCode) error
	ButtonDown(keycode.MouseButton) error
	ButtonUp(keycode.MouseButton) error
}

// direct is the unmediated backend. It injects on X11 and reads state on
// both X11 and XWayland.
type direct interface {
	injector
	IsKeyPressed(keycode.KeyCode) (bool, error)
	CursorPosition() (x, y int, err error)
	SetCursorPosition(x, y int) error
	MoveCursor(dx, dy int) error
	Close() error
}

// Input is a handle on the input subsystem. It is safe for concurrent use.
type Input struct {
	env        platform.Env
	mode       string
	sessions   *session.Provider
	dispatcher *inject.Dispatcher
	direct     direct
	metrics    *metrics.Input
	log        *logging.Logger
}

type options struct {
	cfg         *config.Config
	configFile  string
	backend     string
	display     string
	env         platform.Env
	dial        session.Dialer
	newChannel  session.ChannelFactory
	sessionOpts []session.Option
	direct      direct
	metrics     *metrics.Input
}

// Option configures New.
type Option func(*options)

// WithConfig uses cfg instead of the defaults.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigFile loads the configuration from path.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configFile = path }
}

// WithBackend forces a backend: "auto", "portal" or "x11".
func WithBackend(mode string) Option {
	return func(o *options) { o.backend = mode }
}

// WithDisplay selects the X display, overriding $DISPLAY.
func WithDisplay(name string) Option {
	return func(o *options) { o.display = name }
}

// WithEnv replaces the environment lookup used for routing decisions.
func WithEnv(lookup func(key string) (string, bool)) Option {
	return func(o *options) { o.env = lookup }
}

// WithMetrics records handshakes and operations in m.
func WithMetrics(m *metrics.Input) Option {
	return func(o *options) { o.metrics = m }
}

// New creates an Input. It does not contact the portal or the X server;
// that happens on the first operation that needs them.
func New(opts ...Option) (*Input, error) {
	o := options{env: platform.OSEnv}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
		if o.configFile != "" {
			loaded, err := config.Load(o.configFile)
			if err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
	} else {
		cfg = cfg.Clone()
	}
	if o.backend != "" {
		cfg.Backend.Mode = o.backend
	}
	if o.display != "" {
		cfg.Backend.Display = o.display
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if o.dial == nil {
		o.dial = portal.Dial
	}
	if o.newChannel == nil {
		o.newChannel = session.EIChannel
	}
	if o.direct == nil {
		o.direct = x11.New(cfg.Backend.Display)
	}

	sessions := session.NewProvider(cfg.Session(), o.dial, o.newChannel, o.sessionOpts...)
	if o.metrics != nil {
		sessions.Observe(o.metrics)
	}
	return &Input{
		env:        o.env,
		mode:       cfg.Backend.Mode,
		sessions:   sessions,
		dispatcher: inject.New(sessions),
		direct:     o.direct,
		metrics:    o.metrics,
		log:        logging.Default().WithComponent("crossinput"),
	}, nil
}

// mediated reports whether injection goes through the portal session.
// Auto mode re-reads the environment on every call.
func (in *Input) mediated() bool {
	switch in.mode {
	case config.BackendPortal:
		return true
	case config.BackendX11:
		return false
	default:
		return platform.RequiresMediatedSession(in.env)
	}
}

// canRead reports whether key and pointer state can be read.
func (in *Input) canRead() bool {
	return in.mode == config.BackendX11 || platform.HasDirectReadChannel(in.env)
}

func (in *Input) injector() injector {
	if in.mediated() {
		return in.dispatcher
	}
	return in.direct
}

func (in *Input) report(op string, err error) {
	if in.metrics != nil {
		in.metrics.Operation(op, err)
	}
	if err != nil {
		in.log.Debug("operation dropped", "op", op, "error", err)
	}
}

// IsKeyPressed reports whether k is held down. Without a readable display
// it reports false.
func (in *Input) IsKeyPressed(k KeyCode) bool {
	if !in.canRead() {
		return false
	}
	pressed, err := in.direct.IsKeyPressed(k)
	in.report("is-key-pressed", err)
	return pressed
}

// KeyDown presses k.
func (in *Input) KeyDown(k KeyCode) { in.report("key-down", in.injector().KeyDown(k)) }

// KeyUp releases k.
func (in *Input) KeyUp(k KeyCode) { in.report("key-up", in.injector().KeyUp(k)) }

// KeyPress presses and releases k.
func (in *Input) KeyPress(k KeyCode) {
	if in.mediated() {
		in.report("key-press", in.dispatcher.KeyPress(k))
		return
	}
	if err := in.direct.KeyDown(k); err != nil {
		in.report("key-press", err)
		return
	}
	in.report("key-press", in.direct.KeyUp(k))
}

// MouseButtonDown presses b.
func (in *Input) MouseButtonDown(b MouseButton) {
	in.report("button-down", in.injector().ButtonDown(b))
}

// MouseButtonUp releases b.
func (in *Input) MouseButtonUp(b MouseButton) {
	in.report("button-up", in.injector().ButtonUp(b))
}

// MouseClick presses and releases b.
func (in *Input) MouseClick(b MouseButton) {
	if in.mediated() {
		in.report("click", in.dispatcher.ButtonClick(b))
		return
	}
	if err := in.direct.ButtonDown(b); err != nil {
		in.report("click", err)
		return
	}
	in.report("click", in.direct.ButtonUp(b))
}

// GetCursorPosition returns the pointer position, or the origin when no
// display can be read.
func (in *Input) GetCursorPosition() Point {
	if in.mediated() {
		if p, ok := in.dispatcher.CursorPosition(); ok {
			return Point{X: p.X, Y: p.Y}
		}
	}
	if !in.canRead() {
		return Point{}
	}
	x, y, err := in.direct.CursorPosition()
	if err != nil {
		in.report("cursor-position", err)
		return Point{}
	}
	return Point{X: x, Y: y}
}

// SetCursorPosition moves the pointer to p.
//
// When the pointer device only supports relative motion, the first call
// records p as the reference position and does not move the pointer; later
// calls move by the difference to the previous target.
func (in *Input) SetCursorPosition(p Point) {
	if in.mediated() {
		in.report("set-position", in.dispatcher.SetCursorPosition(session.Point{X: p.X, Y: p.Y}))
		return
	}
	in.report("set-position", in.direct.SetCursorPosition(p.X, p.Y))
}

// MoveCursor moves the pointer by (dx, dy).
func (in *Input) MoveCursor(dx, dy int) {
	if in.mediated() {
		in.report("move", in.dispatcher.MoveCursor(dx, dy))
		return
	}
	in.report("move", in.direct.MoveCursor(dx, dy))
}

// GetPlatformName describes the input path in use.
func (in *Input) GetPlatformName() string {
	env := in.env
	switch in.mode {
	case config.BackendX11:
		env = platform.MapEnv(nil)
	case config.BackendPortal:
		env = platform.MapEnv(map[string]string{platform.EnvSessionType: "wayland"})
	}
	return platform.Name(env, true)
}

// SessionState reports the state of the current portal session, or Idle
// when no handshake has run yet. It does not wait for a running handshake.
func (in *Input) SessionState() session.State {
	return in.sessions.State()
}

// Close ends the portal session and the X connection. A later operation
// starts over with a new handshake.
func (in *Input) Close() error {
	return errors.Join(in.dispatcher.Close(), in.direct.Close())
}
