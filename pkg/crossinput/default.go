package crossinput

import "sync"

var (
	defaultOnce  sync.Once
	defaultInput *Input
)

// Default returns the process-wide Input built from the default
// configuration and the real environment.
func Default() *Input {
	defaultOnce.Do(func() {
		// The default configuration always validates.
		defaultInput, _ = New()
	})
	return defaultInput
}

// IsKeyPressed reports whether k is held down.
func IsKeyPressed(k KeyCode) bool { return Default().IsKeyPressed(k) }

// KeyDown presses k.
func KeyDown(k KeyCode) { Default().KeyDown(k) }

// KeyUp releases k.
func KeyUp(k KeyCode) { Default().KeyUp(k) }

// KeyPress presses and releases k.
func KeyPress(k KeyCode) { Default().KeyPress(k) }

// MouseButtonDown presses b.
func MouseButtonDown(b MouseButton) { Default().MouseButtonDown(b) }

// MouseButtonUp releases b.
func MouseButtonUp(b MouseButton) { Default().MouseButtonUp(b) }

// MouseClick presses and releases b.
func MouseClick(b MouseButton) { Default().MouseClick(b) }

// GetCursorPosition returns the pointer position.
func GetCursorPosition() Point { return Default().GetCursorPosition() }

// SetCursorPosition moves the pointer to p.
func SetCursorPosition(p Point) { Default().SetCursorPosition(p) }

// MoveCursor moves the pointer by (dx, dy).
func MoveCursor(dx, dy int) { Default().MoveCursor(dx, dy) }

// GetPlatformName describes the input path in use.
func GetPlatformName() string { return Default().GetPlatformName() }
