package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError describes a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig validates the entire configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validatePortal(&c.Portal)...)
	errs = append(errs, validateBackend(&c.Backend)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateRemote(&c.Remote)...)
	errs = append(errs, validateScript(&c.Script)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validatePortal(p *PortalConfig) ValidationErrors {
	var errs ValidationErrors

	if p.AppName == "" {
		errs = append(errs, ValidationError{
			Field:   "portal.app_name",
			Message: "app name is required",
		})
	}

	if p.DeviceTypes == 0 || p.DeviceTypes&^3 != 0 {
		errs = append(errs, ValidationError{
			Field:   "portal.device_types",
			Message: fmt.Sprintf("invalid device types %d (1 keyboard, 2 pointer, 3 both)", p.DeviceTypes),
		})
	}

	timeouts := []struct {
		field string
		value int
	}{
		{"portal.create_session_timeout_ms", p.CreateSessionTimeoutMs},
		{"portal.select_devices_timeout_ms", p.SelectDevicesTimeoutMs},
		{"portal.start_timeout_ms", p.StartTimeoutMs},
		{"portal.poll_interval_ms", p.PollIntervalMs},
		{"portal.discovery_budget_ms", p.DiscoveryBudgetMs},
		{"portal.discovery_slice_ms", p.DiscoverySliceMs},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			errs = append(errs, ValidationError{
				Field:   t.field,
				Message: "must be positive",
			})
		}
	}

	if p.PollIntervalMs > 0 && p.PollIntervalMs > p.CreateSessionTimeoutMs {
		errs = append(errs, ValidationError{
			Field:   "portal.poll_interval_ms",
			Message: "poll interval cannot exceed the create session timeout",
		})
	}

	if p.DiscoverySliceMs > 0 && p.DiscoverySliceMs > p.DiscoveryBudgetMs {
		errs = append(errs, ValidationError{
			Field:   "portal.discovery_slice_ms",
			Message: "discovery slice cannot exceed the discovery budget",
		})
	}

	return errs
}

func validateBackend(b *BackendConfig) ValidationErrors {
	var errs ValidationErrors

	switch b.Mode {
	case BackendAuto, BackendPortal, BackendX11:
		// Valid modes
	default:
		errs = append(errs, ValidationError{
			Field:   "backend.mode",
			Message: fmt.Sprintf("invalid backend mode: %s (valid: auto, portal, x11)", b.Mode),
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	return errs
}

func validateRemote(r *RemoteConfig) ValidationErrors {
	var errs ValidationErrors

	if _, _, err := net.SplitHostPort(r.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "remote.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", r.Listen, err),
		})
	}

	if !strings.HasPrefix(r.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "remote.path",
			Message: "path must start with /",
		})
	}

	if r.MaxMessageBytes < 64 {
		errs = append(errs, ValidationError{
			Field:   "remote.max_message_bytes",
			Message: "max message size must be at least 64 bytes",
		})
	}

	if r.MaxClients < 0 {
		errs = append(errs, ValidationError{
			Field:   "remote.max_clients",
			Message: "max clients cannot be negative",
		})
	}

	if r.StepsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "remote.steps_per_second",
			Message: "step rate cannot be negative",
		})
	}

	if r.StepsPerSecond > 0 && r.StepBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "remote.step_burst",
			Message: "step burst must be at least 1 when rate limiting",
		})
	}

	return errs
}

func validateScript(s *ScriptConfig) ValidationErrors {
	var errs ValidationErrors

	if s.StepDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "script.step_delay_ms",
			Message: "step delay cannot be negative",
		})
	}

	if s.MaxSteps < 1 {
		errs = append(errs, ValidationError{
			Field:   "script.max_steps",
			Message: "max steps must be at least 1",
		})
	}

	return errs
}
