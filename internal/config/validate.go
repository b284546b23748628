package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would stall the daemon are clamped to safe
// defaults. Other validation errors are logged as warnings but do not prevent
// startup.
func (c *Config) Validate() []error {
	var errs []error

	if !filepath.IsAbs(c.BacklightDir) {
		errs = append(errs, fmt.Errorf("backlight_dir %q must be an absolute path", c.BacklightDir))
	}

	// Clamp the idle timeout: a zero timeout would fade the backlight in a
	// busy loop.
	if c.IdleTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("idle_timeout_seconds %d is below minimum 1, clamping", c.IdleTimeoutSeconds))
		c.IdleTimeoutSeconds = 1
	} else if c.IdleTimeoutSeconds > 86400 {
		errs = append(errs, fmt.Errorf("idle_timeout_seconds %d exceeds maximum 86400, clamping", c.IdleTimeoutSeconds))
		c.IdleTimeoutSeconds = 86400
	}

	if c.FadeTickMillis < 1 {
		errs = append(errs, fmt.Errorf("fade_tick_ms %d is below minimum 1, clamping", c.FadeTickMillis))
		c.FadeTickMillis = 1
	} else if c.FadeTickMillis > 1000 {
		errs = append(errs, fmt.Errorf("fade_tick_ms %d exceeds maximum 1000, clamping", c.FadeTickMillis))
		c.FadeTickMillis = 1000
	}

	if len(c.DisplayServerNames) == 0 {
		errs = append(errs, fmt.Errorf("display_server_names is empty, restoring defaults"))
		c.DisplayServerNames = Default().DisplayServerNames
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
