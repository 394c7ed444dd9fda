package config

import (
	"os"
	"path/filepath"
)

// PlatformConfigDir returns the directory holding config files,
// $XDG_CONFIG_HOME/crossinput or ~/.config/crossinput.
func PlatformConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "crossinput")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "crossinput")
}

// PlatformStateDir returns the directory for logs,
// $XDG_STATE_HOME/crossinput or ~/.local/state/crossinput.
func PlatformStateDir() string {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "crossinput")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "crossinput")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. Current directory
	// 2. Config directory
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "crossinput."+ext)
			if dir != "." {
				path = filepath.Join(dir, "config."+ext)
			}
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
