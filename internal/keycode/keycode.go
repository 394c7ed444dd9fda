// Package keycode defines the canonical key and mouse button identifiers and
// their translation to native codes.
//
// Translation is total: every value maps either to a native code or to
// Unsupported. Callers must treat Unsupported as "do nothing".
package keycode

import (
	"fmt"
	"strings"
)

// KeyCode is a platform-independent key identifier.
type KeyCode int

// Canonical key codes.
const (
	KeyA KeyCode = iota
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	Key0
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyEscape
	KeySpace
	KeyEnter
	KeyTab
	KeyShift
	KeyControl
	KeyAlt
	KeyCapsLock
	KeyBackspace
	KeyDelete
	KeyInsert
	KeyLeft
	KeyRight
	KeyUp
	KeyDown
	KeyComma
	KeyPeriod
	KeySemicolon
	KeyApostrophe
	KeySlash
	KeyBackslash

	keyCount
)

// MouseButton is a platform-independent mouse button identifier.
type MouseButton int

// Canonical mouse buttons.
const (
	ButtonLeft MouseButton = iota
	ButtonRight
	ButtonMiddle

	buttonCount
)

// Unsupported is returned by every translation when no native code exists.
const Unsupported uint32 = 0

// evdev codes from linux/input-event-codes.h.
var evdevKeys = [keyCount]uint32{
	KeyA: 30, KeyB: 48, KeyC: 46, KeyD: 32, KeyE: 18, KeyF: 33, KeyG: 34,
	KeyH: 35, KeyI: 23, KeyJ: 36, KeyK: 37, KeyL: 38, KeyM: 50, KeyN: 49,
	KeyO: 24, KeyP: 25, KeyQ: 16, KeyR: 19, KeyS: 31, KeyT: 20, KeyU: 22,
	KeyV: 47, KeyW: 17, KeyX: 45, KeyY: 21, KeyZ: 44,

	Key0: 11, Key1: 2, Key2: 3, Key3: 4, Key4: 5,
	Key5: 6, Key6: 7, Key7: 8, Key8: 9, Key9: 10,

	KeyF1: 59, KeyF2: 60, KeyF3: 61, KeyF4: 62, KeyF5: 63, KeyF6: 64,
	KeyF7: 65, KeyF8: 66, KeyF9: 67, KeyF10: 68, KeyF11: 87, KeyF12: 88,

	KeyEscape:    1,
	KeySpace:     57,
	KeyEnter:     28,
	KeyTab:       15,
	KeyShift:     42, // KEY_LEFTSHIFT
	KeyControl:   29, // KEY_LEFTCTRL
	KeyAlt:       56, // KEY_LEFTALT
	KeyCapsLock:  58,
	KeyBackspace: 14,
	KeyDelete:    111,
	KeyInsert:    110,

	KeyLeft:  105,
	KeyRight: 106,
	KeyUp:    103,
	KeyDown:  108,

	KeyComma:      51,
	KeyPeriod:     52,
	KeySemicolon:  39,
	KeyApostrophe: 40,
	KeySlash:      53,
	KeyBackslash:  43,
}

var evdevButtons = [buttonCount]uint32{
	ButtonLeft:   0x110,
	ButtonRight:  0x111,
	ButtonMiddle: 0x112,
}

var x11Buttons = [buttonCount]uint8{
	ButtonLeft:   1,
	ButtonRight:  3,
	ButtonMiddle: 2,
}

// x11KeycodeOffset is the fixed distance between evdev and X keycodes under
// the evdev/libinput X drivers and XWayland.
const x11KeycodeOffset = 8

// Evdev returns the Linux evdev key code for k, or Unsupported.
func Evdev(k KeyCode) uint32 {
	if !k.Valid() {
		return Unsupported
	}
	return evdevKeys[k]
}

// EvdevButton returns the Linux evdev button code (BTN_*) for b, or Unsupported.
func EvdevButton(b MouseButton) uint32 {
	if !b.Valid() {
		return Unsupported
	}
	return evdevButtons[b]
}

// X11 returns the X server keycode for k, or Unsupported.
func X11(k KeyCode) uint32 {
	code := Evdev(k)
	if code == Unsupported {
		return Unsupported
	}
	return code + x11KeycodeOffset
}

// X11Button returns the core protocol button number for b, or Unsupported.
func X11Button(b MouseButton) uint32 {
	if !b.Valid() {
		return Unsupported
	}
	return uint32(x11Buttons[b])
}

// Valid reports whether k is one of the canonical key codes.
func (k KeyCode) Valid() bool {
	return k >= 0 && k < keyCount
}

// Valid reports whether b is one of the canonical buttons.
func (b MouseButton) Valid() bool {
	return b >= 0 && b < buttonCount
}

var keyNames = [keyCount]string{
	KeyA: "A", KeyB: "B", KeyC: "C", KeyD: "D", KeyE: "E", KeyF: "F", KeyG: "G",
	KeyH: "H", KeyI: "I", KeyJ: "J", KeyK: "K", KeyL: "L", KeyM: "M", KeyN: "N",
	KeyO: "O", KeyP: "P", KeyQ: "Q", KeyR: "R", KeyS: "S", KeyT: "T", KeyU: "U",
	KeyV: "V", KeyW: "W", KeyX: "X", KeyY: "Y", KeyZ: "Z",

	Key0: "0", Key1: "1", Key2: "2", Key3: "3", Key4: "4",
	Key5: "5", Key6: "6", Key7: "7", Key8: "8", Key9: "9",

	KeyF1: "F1", KeyF2: "F2", KeyF3: "F3", KeyF4: "F4", KeyF5: "F5", KeyF6: "F6",
	KeyF7: "F7", KeyF8: "F8", KeyF9: "F9", KeyF10: "F10", KeyF11: "F11", KeyF12: "F12",

	KeyEscape:    "Escape",
	KeySpace:     "Space",
	KeyEnter:     "Enter",
	KeyTab:       "Tab",
	KeyShift:     "Shift",
	KeyControl:   "Control",
	KeyAlt:       "Alt",
	KeyCapsLock:  "CapsLock",
	KeyBackspace: "Backspace",
	KeyDelete:    "Delete",
	KeyInsert:    "Insert",

	KeyLeft:  "Left",
	KeyRight: "Right",
	KeyUp:    "Up",
	KeyDown:  "Down",

	KeyComma:      "Comma",
	KeyPeriod:     "Period",
	KeySemicolon:  "Semicolon",
	KeyApostrophe: "Apostrophe",
	KeySlash:      "Slash",
	KeyBackslash:  "Backslash",
}

var buttonNames = [buttonCount]string{
	ButtonLeft:   "Left",
	ButtonRight:  "Right",
	ButtonMiddle: "Middle",
}

// aliases accepted by ParseKeyCode in addition to the canonical names.
var keyAliases = map[string]KeyCode{
	"esc":       KeyEscape,
	"return":    KeyEnter,
	"ctrl":      KeyControl,
	"caps_lock": KeyCapsLock,
	"del":       KeyDelete,
	"ins":       KeyInsert,
	"dot":       KeyPeriod,
	",":         KeyComma,
	".":         KeyPeriod,
	";":         KeySemicolon,
	"'":         KeyApostrophe,
	"/":         KeySlash,
	"\\":        KeyBackslash,
	" ":         KeySpace,
}

func (k KeyCode) String() string {
	if !k.Valid() {
		return fmt.Sprintf("KeyCode(%d)", int(k))
	}
	return keyNames[k]
}

func (b MouseButton) String() string {
	if !b.Valid() {
		return fmt.Sprintf("MouseButton(%d)", int(b))
	}
	return buttonNames[b]
}

// ParseKeyCode resolves a key name case-insensitively. It accepts the
// canonical names ("A", "F5", "Escape"), a "KEY_" prefix and a few aliases.
func ParseKeyCode(s string) (KeyCode, error) {
	if k, ok := keyAliases[strings.ToLower(s)]; ok {
		return k, nil
	}
	name := strings.TrimSpace(s)
	if len(name) > 4 && strings.EqualFold(name[:4], "key_") {
		name = name[4:]
	}
	name = strings.ReplaceAll(name, "_", "")
	if k, ok := keyAliases[strings.ToLower(name)]; ok {
		return k, nil
	}
	for k := KeyCode(0); k < keyCount; k++ {
		if strings.EqualFold(keyNames[k], name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown key: %q", s)
}

// ParseMouseButton resolves a button name case-insensitively.
func ParseMouseButton(s string) (MouseButton, error) {
	for b := MouseButton(0); b < buttonCount; b++ {
		if strings.EqualFold(buttonNames[b], strings.TrimSpace(s)) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown mouse button: %q", s)
}

// Keys returns every canonical key code in declaration order.
func Keys() []KeyCode {
	keys := make([]KeyCode, 0, keyCount)
	for k := KeyCode(0); k < keyCount; k++ {
		keys = append(keys, k)
	}
	return keys
}

// Buttons returns every canonical mouse button.
func Buttons() []MouseButton {
	return []MouseButton{ButtonLeft, ButtonRight, ButtonMiddle}
}
