// Package platform decides which input path serves a call by looking at the
// process environment.
//
// Nothing here is cached: long-running processes may see the environment
// change between calls, so callers evaluate the predicates every time.
package platform

import (
	"os"
	"runtime"
)

// Env looks up an environment variable.
type Env func(key string) (string, bool)

// OSEnv reads the real process environment.
func OSEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnv returns an Env backed by a fixed map.
func MapEnv(vars map[string]string) Env {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

// Environment variables consulted for routing.
const (
	EnvWaylandDisplay = "WAYLAND_DISPLAY"
	EnvWaylandSocket  = "WAYLAND_SOCKET"
	EnvSessionType    = "XDG_SESSION_TYPE"
	EnvX11Display     = "DISPLAY"
)

func nonEmpty(env Env, key string) bool {
	if env == nil {
		env = OSEnv
	}
	v, ok := env(key)
	return ok && v != ""
}

// RequiresMediatedSession reports whether synthetic input must go through the
// portal broker. This is the case under a Wayland compositor, even when
// WAYLAND_DISPLAY is unset but the login session type says wayland.
func RequiresMediatedSession(env Env) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	if nonEmpty(env, EnvWaylandDisplay) || nonEmpty(env, EnvWaylandSocket) {
		return true
	}
	if env == nil {
		env = OSEnv
	}
	v, _ := env(EnvSessionType)
	return v == "wayland"
}

// HasDirectReadChannel reports whether an X11 (or XWayland) display is
// available for reading pointer and keyboard state.
func HasDirectReadChannel(env Env) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	return nonEmpty(env, EnvX11Display)
}

// Name returns a human-readable description of the active input path.
// mediatedAvailable tells whether this build can talk to the broker at all.
func Name(env Env, mediatedAvailable bool) string {
	if runtime.GOOS != "linux" {
		return runtime.GOOS + " (unsupported)"
	}
	if RequiresMediatedSession(env) {
		if mediatedAvailable {
			return "Linux (Hybrid: Wayland/libei + XWayland)"
		}
		return "Linux (Wayland - No libei support)"
	}
	return "Linux (X11)"
}
