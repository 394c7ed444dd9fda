package crossinput

import "crossinput/internal/keycode"

// KeyCode identifies a key independently of any platform.
type KeyCode = keycode.KeyCode

// MouseButton identifies a mouse button independently of any platform.
type MouseButton = keycode.MouseButton

// Keys.
const (
	KeyA          = keycode.KeyA
	KeyB          = keycode.KeyB
	KeyC          = keycode.KeyC
	KeyD          = keycode.KeyD
	KeyE          = keycode.KeyE
	KeyF          = keycode.KeyF
	KeyG          = keycode.KeyG
	KeyH          = keycode.KeyH
	KeyI          = keycode.KeyI
	KeyJ          = keycode.KeyJ
	KeyK          = keycode.KeyK
	KeyL          = keycode.KeyL
	KeyM          = keycode.KeyM
	KeyN          = keycode.KeyN
	KeyO          = keycode.KeyO
	KeyP          = keycode.KeyP
	KeyQ          = keycode.KeyQ
	KeyR          = keycode.KeyR
	KeyS          = keycode.KeyS
	KeyT          = keycode.KeyT
	KeyU          = keycode.KeyU
	KeyV          = keycode.KeyV
	KeyW          = keycode.KeyW
	KeyX          = keycode.KeyX
	KeyY          = keycode.KeyY
	KeyZ          = keycode.KeyZ
	Key0          = keycode.Key0
	Key1          = keycode.Key1
	Key2          = keycode.Key2
	Key3          = keycode.Key3
	Key4          = keycode.Key4
	Key5          = keycode.Key5
	Key6          = keycode.Key6
	Key7          = keycode.Key7
	Key8          = keycode.Key8
	Key9          = keycode.Key9
	KeyF1         = keycode.KeyF1
	KeyF2         = keycode.KeyF2
	KeyF3         = keycode.KeyF3
	KeyF4         = keycode.KeyF4
	KeyF5         = keycode.KeyF5
	KeyF6         = keycode.KeyF6
	KeyF7         = keycode.KeyF7
	KeyF8         = keycode.KeyF8
	KeyF9         = keycode.KeyF9
	KeyF10        = keycode.KeyF10
	KeyF11        = keycode.KeyF11
	KeyF12        = keycode.KeyF12
	KeyEscape     = keycode.KeyEscape
	KeySpace      = keycode.KeySpace
	KeyEnter      = keycode.KeyEnter
	KeyTab        = keycode.KeyTab
	KeyShift      = keycode.KeyShift
	KeyControl    = keycode.KeyControl
	KeyAlt        = keycode.KeyAlt
	KeyCapsLock   = keycode.KeyCapsLock
	KeyBackspace  = keycode.KeyBackspace
	KeyDelete     = keycode.KeyDelete
	KeyInsert     = keycode.KeyInsert
	KeyArrowLeft  = keycode.KeyLeft
	KeyArrowRight = keycode.KeyRight
	KeyArrowUp    = keycode.KeyUp
	KeyArrowDown  = keycode.KeyDown
	KeyComma      = keycode.KeyComma
	KeyPeriod     = keycode.KeyPeriod
	KeySemicolon  = keycode.KeySemicolon
	KeyApostrophe = keycode.KeyApostrophe
	KeySlash      = keycode.KeySlash
	KeyBackslash  = keycode.KeyBackslash
)

// Mouse buttons.
const (
	MouseLeft   = keycode.ButtonLeft
	MouseRight  = keycode.ButtonRight
	MouseMiddle = keycode.ButtonMiddle
)

// ParseKeyCode resolves a key name such as "a", "f5" or "enter".
func ParseKeyCode(s string) (KeyCode, error) { return keycode.ParseKeyCode(s) }

// ParseMouseButton resolves "left", "right" or "middle".
func ParseMouseButton(s string) (MouseButton, error) { return keycode.ParseMouseButton(s) }

// Keys returns every key the package knows, in declaration order.
func Keys() []KeyCode { return keycode.Keys() }
