package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"grimm.is/netstate/internal/logging"
	"grimm.is/netstate/internal/validation"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
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

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks a defaulted configuration.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	switch c.Checkpoint.Backend {
	case CheckpointLocal:
		if c.Checkpoint.DBPath == "" {
			add("checkpoint.db_path", "required for the local backend")
		}
	case CheckpointNetworkManager, CheckpointNone:
	default:
		add("checkpoint.backend", "unknown backend %q (want %s, %s or %s)",
			c.Checkpoint.Backend, CheckpointLocal, CheckpointNetworkManager, CheckpointNone)
	}

	switch c.Hostname.Backend {
	case HostnameSyscall, HostnameHostnamed:
	default:
		add("hostname.backend", "unknown backend %q (want %s or %s)",
			c.Hostname.Backend, HostnameSyscall, HostnameHostnamed)
	}

	for _, d := range []struct{ field, val string }{
		{"checkpoint.timeout", c.Checkpoint.Timeout},
		{"verify.interval", c.Verify.Interval},
		{"verify.probe_timeout", c.Verify.ProbeTimeout},
		{"daemon.interval", c.Daemon.Interval},
		{"daemon.settle", c.Daemon.Settle},
	} {
		if err := positiveDuration(d.val); err != nil {
			add(d.field, "%v", err)
		}
	}

	if c.Verify.Retries < 0 {
		add("verify.retries", "must not be negative")
	}
	for i, target := range c.Verify.ProbeTargets {
		if validation.ValidateIP(target) != nil {
			add(fmt.Sprintf("verify.probe_targets[%d]", i), "%q is not an IP address", target)
		}
	}
	if c.Daemon.MetricsListen != "-" {
		if _, _, err := net.SplitHostPort(c.Daemon.MetricsListen); err != nil {
			add("daemon.metrics_listen", "%v", err)
		}
	}
	if c.StateFile == "" {
		add("state_file", "required")
	}
	return errs
}

func positiveDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration %q must be positive", s)
	}
	return nil
}
