// Package x11 injects input and reads pointer and key state through an X
// server with the XTEST extension. Under a Wayland compositor it reaches
// XWayland, which answers reads but may ignore injected input.
package x11

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"crossinput/internal/keycode"
	"crossinput/internal/logging"
)

// ErrUnsupportedCode is returned for codes without an X keycode or button.
var ErrUnsupportedCode = errors.New("x11: code has no X mapping")

// Core event types understood by XTEST FakeInput.
const (
	eventKeyPress      byte = 2
	eventKeyRelease    byte = 3
	eventButtonPress   byte = 4
	eventButtonRelease byte = 5
)

// server is the subset of X requests the display needs.
type server interface {
	fakeInput(event, detail byte) error
	// warp moves the pointer to (x, y) on the root window, or by (x, y)
	// when relative is set.
	warp(relative bool, x, y int16) error
	pointer() (x, y int16, err error)
	keymap() ([]byte, error)
	close()
}

// Display is a lazily opened, shared connection to one X server. A request
// that fails drops the connection; the next call reconnects.
type Display struct {
	mu   sync.Mutex
	name string
	dial func(name string) (server, error)
	srv  server
	log  *logging.Logger
}

// New returns a display for the X server name. An empty name means $DISPLAY.
// No connection is made until the first operation.
func New(name string) *Display {
	return &Display{
		name: name,
		dial: dialXGB,
		log:  logging.Default().WithComponent("x11"),
	}
}

func (d *Display) do(fn func(server) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srv == nil {
		srv, err := d.dial(d.name)
		if err != nil {
			return fmt.Errorf("open display %q: %w", d.name, err)
		}
		d.srv = srv
	}
	if err := fn(d.srv); err != nil {
		d.log.Debug("request failed, closing connection", "error", err)
		d.srv.close()
		d.srv = nil
		return err
	}
	return nil
}

// KeyDown presses k.
func (d *Display) KeyDown(k keycode.KeyCode) error { return d.key(k, eventKeyPress) }

// KeyUp releases k.
func (d *Display) KeyUp(k keycode.KeyCode) error { return d.key(k, eventKeyRelease) }

func (d *Display) key(k keycode.KeyCode, event byte) error {
	code := keycode.X11(k)
	if code == keycode.Unsupported || code > math.MaxUint8 {
		return fmt.Errorf("%w: %v", ErrUnsupportedCode, k)
	}
	return d.do(func(s server) error {
		return s.fakeInput(event, byte(code))
	})
}

// ButtonDown presses b.
func (d *Display) ButtonDown(b keycode.MouseButton) error { return d.button(b, eventButtonPress) }

// ButtonUp releases b.
func (d *Display) ButtonUp(b keycode.MouseButton) error { return d.button(b, eventButtonRelease) }

func (d *Display) button(b keycode.MouseButton, event byte) error {
	code := keycode.X11Button(b)
	if code == keycode.Unsupported {
		return fmt.Errorf("%w: %v", ErrUnsupportedCode, b)
	}
	return d.do(func(s server) error {
		return s.fakeInput(event, byte(code))
	})
}

// IsKeyPressed reports whether k is down according to the server keymap.
func (d *Display) IsKeyPressed(k keycode.KeyCode) (bool, error) {
	code := keycode.X11(k)
	if code == keycode.Unsupported || code > math.MaxUint8 {
		return false, fmt.Errorf("%w: %v", ErrUnsupportedCode, k)
	}
	var pressed bool
	err := d.do(func(s server) error {
		keys, err := s.keymap()
		if err != nil {
			return err
		}
		pressed = keyDown(keys, byte(code))
		return nil
	})
	return pressed, err
}

func keyDown(keys []byte, code byte) bool {
	i := int(code / 8)
	return i < len(keys) && keys[i]&(1<<(code%8)) != 0
}

// CursorPosition returns the pointer position on the root window.
func (d *Display) CursorPosition() (x, y int, err error) {
	err = d.do(func(s server) error {
		px, py, err := s.pointer()
		x, y = int(px), int(py)
		return err
	})
	return x, y, err
}

// SetCursorPosition warps the pointer to (x, y) on the root window.
func (d *Display) SetCursorPosition(x, y int) error {
	return d.do(func(s server) error {
		return s.warp(false, clamp16(x), clamp16(y))
	})
}

// MoveCursor warps the pointer by (dx, dy).
func (d *Display) MoveCursor(dx, dy int) error {
	return d.do(func(s server) error {
		return s.warp(true, clamp16(dx), clamp16(dy))
	})
}

// Close drops the connection.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.srv != nil {
		d.srv.close()
		d.srv = nil
	}
	return nil
}

// X coordinates are 16 bit.
func clamp16(v int) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
