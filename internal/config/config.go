// Package config handles configuration loading, validation, and management for crossinput.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"crossinput/internal/logging"
	"crossinput/internal/session"
)

// Version is the current configuration schema version.
const Version = 1

// Backend modes.
const (
	BackendAuto   = "auto"
	BackendPortal = "portal"
	BackendX11    = "x11"
)

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Portal configures the RemoteDesktop handshake.
	Portal PortalConfig `toml:"portal" json:"portal" yaml:"portal"`

	// Backend selects the injection path.
	Backend BackendConfig `toml:"backend" json:"backend" yaml:"backend"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Remote configures the websocket control server.
	Remote RemoteConfig `toml:"remote" json:"remote" yaml:"remote"`

	// Script configures automation scripts.
	Script ScriptConfig `toml:"script" json:"script" yaml:"script"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// PortalConfig holds the handshake timings. Durations are in milliseconds.
type PortalConfig struct {
	// AppName is announced to the compositor on the input channel.
	AppName string `toml:"app_name" json:"app_name" yaml:"app_name"`

	// DeviceTypes is the SelectDevices mask: 1 keyboard, 2 pointer.
	DeviceTypes uint32 `toml:"device_types" json:"device_types" yaml:"device_types"`

	CreateSessionTimeoutMs int `toml:"create_session_timeout_ms" json:"create_session_timeout_ms" yaml:"create_session_timeout_ms"`
	SelectDevicesTimeoutMs int `toml:"select_devices_timeout_ms" json:"select_devices_timeout_ms" yaml:"select_devices_timeout_ms"`

	// StartTimeoutMs covers the consent dialog.
	StartTimeoutMs int `toml:"start_timeout_ms" json:"start_timeout_ms" yaml:"start_timeout_ms"`

	PollIntervalMs int `toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`

	// DiscoveryBudgetMs bounds device discovery after the channel connects.
	DiscoveryBudgetMs int `toml:"discovery_budget_ms" json:"discovery_budget_ms" yaml:"discovery_budget_ms"`
	DiscoverySliceMs  int `toml:"discovery_slice_ms" json:"discovery_slice_ms" yaml:"discovery_slice_ms"`
}

// BackendConfig selects between the mediated and the direct path.
type BackendConfig struct {
	// Mode is "auto" (route by environment), "portal" or "x11".
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// Display is the X display for direct access; empty means $DISPLAY.
	Display string `toml:"display" json:"display" yaml:"display"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// RemoteConfig holds websocket server configuration.
type RemoteConfig struct {
	// Listen is the address the server binds.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// Path is the HTTP path of the websocket endpoint.
	Path string `toml:"path" json:"path" yaml:"path"`

	// AllowedOrigins lists accepted Origin headers. Empty accepts only
	// same-host requests.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`

	// MaxMessageBytes limits one incoming message.
	MaxMessageBytes int64 `toml:"max_message_bytes" json:"max_message_bytes" yaml:"max_message_bytes"`

	// MaxClients caps concurrent connections. 0 means no limit.
	MaxClients int `toml:"max_clients" json:"max_clients" yaml:"max_clients"`

	// StepsPerSecond is the sustained step rate of one connection. 0
	// disables rate limiting.
	StepsPerSecond float64 `toml:"steps_per_second" json:"steps_per_second" yaml:"steps_per_second"`

	// StepBurst is how many steps a connection may send at once.
	StepBurst int `toml:"step_burst" json:"step_burst" yaml:"step_burst"`
}

// ScriptConfig holds automation script defaults.
type ScriptConfig struct {
	// StepDelayMs is slept after every step that does not set its own delay.
	StepDelayMs int `toml:"step_delay_ms" json:"step_delay_ms" yaml:"step_delay_ms"`

	// MaxSteps rejects larger scripts.
	MaxSteps int `toml:"max_steps" json:"max_steps" yaml:"max_steps"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	hs := session.DefaultConfig()
	return &Config{
		Version: Version,
		Portal: PortalConfig{
			AppName:                hs.AppName,
			DeviceTypes:            hs.DeviceTypes,
			CreateSessionTimeoutMs: int(hs.CreateSessionTimeout / time.Millisecond),
			SelectDevicesTimeoutMs: int(hs.SelectDevicesTimeout / time.Millisecond),
			StartTimeoutMs:         int(hs.StartTimeout / time.Millisecond),
			PollIntervalMs:         int(hs.PollInterval / time.Millisecond),
			DiscoveryBudgetMs:      int(hs.DiscoveryBudget / time.Millisecond),
			DiscoverySliceMs:       int(hs.DiscoverySlice / time.Millisecond),
		},
		Backend: BackendConfig{
			Mode: BackendAuto,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformStateDir(), "crossinput.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Remote: RemoteConfig{
			Listen:          "127.0.0.1:7878",
			Path:            "/ws",
			MaxMessageBytes: 64 * 1024,
			MaxClients:      8,
			StepsPerSecond:  200,
			StepBurst:       50,
		},
		Script: ScriptConfig{
			StepDelayMs: 20,
			MaxSteps:    10000,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with CROSSINPUT_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Logging overrides
	if v := os.Getenv("CROSSINPUT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CROSSINPUT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("CROSSINPUT_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// Backend overrides
	if v := os.Getenv("CROSSINPUT_BACKEND"); v != "" {
		c.Backend.Mode = v
	}

	// Remote overrides
	if v := os.Getenv("CROSSINPUT_REMOTE_LISTEN"); v != "" {
		c.Remote.Listen = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version: c.Version,
		Portal:  c.Portal,
		Backend: c.Backend,
		Logging: c.Logging,
		Remote: RemoteConfig{
			Listen:          c.Remote.Listen,
			Path:            c.Remote.Path,
			AllowedOrigins:  append([]string{}, c.Remote.AllowedOrigins...),
			MaxMessageBytes: c.Remote.MaxMessageBytes,
			MaxClients:      c.Remote.MaxClients,
			StepsPerSecond:  c.Remote.StepsPerSecond,
			StepBurst:       c.Remote.StepBurst,
		},
		Script: c.Script,
	}
}

// Session converts the portal section into handshake settings.
func (c *Config) Session() session.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	cfg := session.DefaultConfig()
	cfg.AppName = c.Portal.AppName
	cfg.DeviceTypes = c.Portal.DeviceTypes
	cfg.CreateSessionTimeout = ms(c.Portal.CreateSessionTimeoutMs)
	cfg.SelectDevicesTimeout = ms(c.Portal.SelectDevicesTimeoutMs)
	cfg.StartTimeout = ms(c.Portal.StartTimeoutMs)
	cfg.PollInterval = ms(c.Portal.PollIntervalMs)
	cfg.DiscoveryBudget = ms(c.Portal.DiscoveryBudgetMs)
	cfg.DiscoverySlice = ms(c.Portal.DiscoverySliceMs)
	return cfg
}

// LoggerConfig converts the logging section into a logger configuration.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("logging.format: %w", err)
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = c.Logging.Output
	cfg.FilePath = c.Logging.FilePath
	cfg.MaxSize = int64(c.Logging.MaxSizeMB)
	cfg.MaxBackups = c.Logging.MaxBackups
	return cfg, nil
}

// StepDelay returns the default delay between script steps.
func (c *Config) StepDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Script.StepDelayMs) * time.Millisecond
}

// SaveConfig writes the configuration as TOML, creating parent directories.
func SaveConfig(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
