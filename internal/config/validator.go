package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "health.poll_interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateBrowser()...)
	errors = append(errors, c.validateHealth()...)
	errors = append(errors, c.validateShutdown()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)

	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Paths.ProfilesFile) == "" {
		errors = append(errors, ValidationError{
			Field:   "paths.profiles_file",
			Value:   c.Paths.ProfilesFile,
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(c.Paths.InstancesDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "paths.instances_dir",
			Value:   c.Paths.InstancesDir,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateBrowser() []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(c.Browser.BootstrapURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "about") {
		errors = append(errors, ValidationError{
			Field:   "browser.bootstrap_url",
			Value:   c.Browser.BootstrapURL,
			Message: "must be an http, https or about URL",
		})
	}

	if c.Browser.WindowWidth < 100 || c.Browser.WindowHeight < 100 {
		errors = append(errors, ValidationError{
			Field:   "browser.window_width/window_height",
			Value:   fmt.Sprintf("%dx%d", c.Browser.WindowWidth, c.Browser.WindowHeight),
			Message: "must both be at least 100",
		})
	}

	if c.Browser.SettleDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "browser.settle_delay_ms",
			Value:   c.Browser.SettleDelayMs,
			Message: "must be non-negative",
		})
	}

	if c.Browser.NavigationTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "browser.navigation_timeout_seconds",
			Value:   c.Browser.NavigationTimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	for i, flag := range c.Browser.ExtraFlags {
		if !strings.HasPrefix(flag, "--") || len(flag) < 3 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("browser.extra_flags[%d]", i),
				Value:   flag,
				Message: "must look like --name or --name=value",
			})
		}
	}

	return errors
}

func (c *Config) validateHealth() []ValidationError {
	var errors []ValidationError

	if c.Health.PollIntervalMs < 100 {
		errors = append(errors, ValidationError{
			Field:   "health.poll_interval_ms",
			Value:   c.Health.PollIntervalMs,
			Message: "must be at least 100",
		})
	}
	if c.Health.ProbeTimeoutMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "health.probe_timeout_ms",
			Value:   c.Health.ProbeTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateShutdown() []ValidationError {
	var errors []ValidationError

	if c.Shutdown.TimeoutMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "shutdown.timeout_ms",
			Value:   c.Shutdown.TimeoutMs,
			Message: "must be positive",
		})
	}
	if c.Shutdown.KillGraceMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "shutdown.kill_grace_ms",
			Value:   c.Shutdown.KillGraceMs,
			Message: "must be positive",
		})
	}
	if c.Shutdown.TimeoutMs >= 1 && c.Shutdown.KillGraceMs >= c.Shutdown.TimeoutMs {
		errors = append(errors, ValidationError{
			Field:   "shutdown.kill_grace_ms",
			Value:   c.Shutdown.KillGraceMs,
			Message: fmt.Sprintf("must be less than shutdown.timeout_ms (%d)", c.Shutdown.TimeoutMs),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateMetrics() []ValidationError {
	if !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
		return []ValidationError{{
			Field:   "metrics.address",
			Value:   c.Metrics.Address,
			Message: "must be host:port",
		}}
	}
	return nil
}
