// Package inject turns input operations into frames on the mediated input
// channel of a session.
package inject

import (
	"errors"
	"fmt"
	"sync"

	"crossinput/internal/ei"
	"crossinput/internal/keycode"
	"crossinput/internal/logging"
	"crossinput/internal/session"
)

// Reasons an operation did nothing. Callers of the public API never see
// them; they exist so the outcome of every call can be observed.
var (
	ErrNotReady        = errors.New("inject: session not ready")
	ErrUnsupportedCode = errors.New("inject: code has no native mapping")
	ErrNoDevice        = errors.New("inject: no device for operation")
	ErrDevicePaused    = errors.New("inject: device paused")
	ErrNoCapability    = errors.New("inject: device lacks capability")
	ErrInvalidRegion   = session.ErrInvalidRegion
)

// Sessions supplies the session operations run against.
type Sessions interface {
	// Acquire returns the current session, running a handshake if needed.
	Acquire() *session.Session
	// Invalidate drops a session whose channel stopped working.
	Invalidate()
	// Close releases the current session.
	Close() error
}

// Dispatcher serialises every operation on the session and its channel.
type Dispatcher struct {
	mu       sync.Mutex
	sessions Sessions
	log      *logging.Logger
}

// New returns a dispatcher over sessions.
func New(sessions Sessions) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		log:      logging.Default().WithComponent("inject"),
	}
}

// Close releases the session once no operation is writing to its channel.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions.Close()
}

// KeyDown presses k on the keyboard device.
func (d *Dispatcher) KeyDown(k keycode.KeyCode) error { return d.key(k, true) }

// KeyUp releases k on the keyboard device.
func (d *Dispatcher) KeyUp(k keycode.KeyCode) error { return d.key(k, false) }

// KeyPress is KeyDown followed by KeyUp, as two frames.
func (d *Dispatcher) KeyPress(k keycode.KeyCode) error {
	if err := d.KeyDown(k); err != nil {
		return err
	}
	return d.KeyUp(k)
}

// ButtonDown presses b on the pointer device.
func (d *Dispatcher) ButtonDown(b keycode.MouseButton) error { return d.button(b, true) }

// ButtonUp releases b on the pointer device.
func (d *Dispatcher) ButtonUp(b keycode.MouseButton) error { return d.button(b, false) }

// ButtonClick is ButtonDown followed by ButtonUp, as two frames.
func (d *Dispatcher) ButtonClick(b keycode.MouseButton) error {
	if err := d.ButtonDown(b); err != nil {
		return err
	}
	return d.ButtonUp(b)
}

func (d *Dispatcher) key(k keycode.KeyCode, pressed bool) error {
	code := keycode.Evdev(k)
	if code == keycode.Unsupported {
		return fmt.Errorf("%w: %v", ErrUnsupportedCode, k)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.ready()
	if err != nil {
		return err
	}
	dev, err := device(s.Keyboard(), ei.CapKeyboard)
	if err != nil {
		return err
	}
	d.log.Debug("key", "key", k, "evdev", code, "pressed", pressed)
	return d.frame(s, dev, func(ch session.Channel) error {
		return ch.KeyboardKey(dev.ID, code, pressed)
	})
}

func (d *Dispatcher) button(b keycode.MouseButton, pressed bool) error {
	code := keycode.EvdevButton(b)
	if code == keycode.Unsupported {
		return fmt.Errorf("%w: %v", ErrUnsupportedCode, b)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.ready()
	if err != nil {
		return err
	}
	dev, err := device(s.Pointer(), ei.CapButton)
	if err != nil {
		return err
	}
	d.log.Debug("button", "button", b, "evdev", code, "pressed", pressed)
	return d.frame(s, dev, func(ch session.Channel) error {
		return ch.Button(dev.ID, code, pressed)
	})
}

// SetCursorPosition moves the pointer to p. An absolute device receives p
// clamped to its first region. A relative-only device receives the delta
// from the previous target; the first call only records p.
func (d *Dispatcher) SetCursorPosition(p session.Point) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.ready()
	if err != nil {
		return err
	}
	dev := s.Pointer()
	switch {
	case dev.Has(ei.CapPointerAbsolute):
		if !dev.Usable() {
			return ErrDevicePaused
		}
		r, err := dev.Region()
		if err != nil {
			return err
		}
		target := session.Clamp(p, r)
		if err := d.absolute(s, dev, target); err != nil {
			return err
		}
		s.Cursor().Placed(target)
		return nil
	case dev.Has(ei.CapPointer):
		if !dev.Usable() {
			return ErrDevicePaused
		}
		dx, dy, ok := s.Cursor().RelativeTo(p)
		if !ok {
			d.log.Debug("cursor baseline recorded", "x", p.X, "y", p.Y)
			return nil
		}
		if dx == 0 && dy == 0 {
			return nil
		}
		return d.relative(s, dev, dx, dy)
	case dev == nil:
		return ErrNoDevice
	}
	return ErrNoCapability
}

// MoveCursor moves the pointer by (dx, dy). Without relative motion the
// move is applied to a running estimate that starts at the region centre.
func (d *Dispatcher) MoveCursor(dx, dy int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.ready()
	if err != nil {
		return err
	}
	dev := s.Pointer()
	switch {
	case dev.Has(ei.CapPointer):
		if !dev.Usable() {
			return ErrDevicePaused
		}
		if err := d.relative(s, dev, dx, dy); err != nil {
			return err
		}
		s.Cursor().Moved(dx, dy)
		return nil
	case dev.Has(ei.CapPointerAbsolute):
		if !dev.Usable() {
			return ErrDevicePaused
		}
		r, err := dev.Region()
		if err != nil {
			return err
		}
		return d.absolute(s, dev, s.Cursor().Advance(dx, dy, r))
	case dev == nil:
		return ErrNoDevice
	}
	return ErrNoCapability
}

// CursorPosition cannot be answered by the channel, which only carries
// input towards the compositor. ok is always false.
func (d *Dispatcher) CursorPosition() (session.Point, bool) {
	return session.Point{}, false
}

func (d *Dispatcher) relative(s *session.Session, dev *session.Device, dx, dy int) error {
	d.log.Debug("relative motion", "dx", dx, "dy", dy)
	return d.frame(s, dev, func(ch session.Channel) error {
		return ch.PointerMotion(dev.ID, float32(dx), float32(dy))
	})
}

func (d *Dispatcher) absolute(s *session.Session, dev *session.Device, p session.Point) error {
	d.log.Debug("absolute motion", "x", p.X, "y", p.Y)
	return d.frame(s, dev, func(ch session.Channel) error {
		return ch.PointerMotionAbsolute(dev.ID, float32(p.X), float32(p.Y))
	})
}

// ready returns a Ready session after draining what its channel queued, so
// pauses, resumes and disconnects are applied before anything is sent.
func (d *Dispatcher) ready() (*session.Session, error) {
	s := d.sessions.Acquire()
	if s != nil && s.State() == session.Ready {
		if err := s.Drain(); err != nil {
			d.log.Debug("drain", "error", err)
		}
		if !s.Valid() {
			d.log.Info("session no longer valid, reconnecting")
			d.sessions.Invalidate()
			s = d.sessions.Acquire()
		}
	}
	if s == nil {
		return nil, ErrNotReady
	}
	if s.State() != session.Ready {
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		return nil, ErrNotReady
	}
	return s, nil
}

func device(dev *session.Device, want ei.Capabilities) (*session.Device, error) {
	switch {
	case dev == nil:
		return nil, ErrNoDevice
	case !dev.Has(want):
		return nil, ErrNoCapability
	case !dev.Usable():
		return nil, ErrDevicePaused
	}
	return dev, nil
}

// frame wraps the events written by emit in one emulation sequence and then
// drains the channel so pause and resume notifications are seen promptly.
func (d *Dispatcher) frame(s *session.Session, dev *session.Device, emit func(session.Channel) error) error {
	ch := s.Channel()
	err := ch.StartEmulating(dev.ID)
	if err == nil {
		err = emit(ch)
		if err == nil {
			err = ch.Frame(dev.ID, ch.Now())
		}
		if stopErr := ch.StopEmulating(dev.ID); err == nil {
			err = stopErr
		}
	}
	if err != nil {
		d.log.Warn("channel write failed, dropping session", "device", dev.Name, "error", err)
		d.sessions.Invalidate()
		return err
	}
	if err := s.Drain(); err != nil {
		d.log.Debug("drain", "error", err)
	}
	return nil
}
