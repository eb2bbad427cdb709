package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Valid log levels and formats.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks a Config for invalid values. It collects every problem
// rather than stopping at the first so a user can fix a config file in one
// pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Store.Path == "" {
		errs = append(errs, errors.New("store.path must not be empty"))
	}

	if cfg.Sync.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("sync.max_concurrent must not be negative, got %d", cfg.Sync.MaxConcurrent))
	}

	if err := validateDuration("sync.watch_debounce", cfg.Sync.WatchDebounce); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("query.timeout", cfg.Query.Timeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.Events.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Events.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("events.listen_addr %q is not host:port: %w", cfg.Events.ListenAddr, err))
		}
	}

	if !validLogLevels[cfg.Logging.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level %q is not one of debug, info, warn, error", cfg.Logging.LogLevel))
	}

	if !validLogFormats[cfg.Logging.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format %q is not one of auto, text, json", cfg.Logging.LogFormat))
	}

	return errors.Join(errs...)
}

func validateDuration(key, value string) error {
	if value == "" {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s %q is not a duration: %w", key, value, err)
	}

	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, d)
	}

	return nil
}

// WatchDebounce returns the parsed debounce interval. Validate has already
// checked the string parses.
func (c *Config) WatchDebounce() time.Duration {
	return parseDurationOr(c.Sync.WatchDebounce, 2*time.Second)
}

// QueryTimeout returns the parsed query deadline.
func (c *Config) QueryTimeout() time.Duration {
	return parseDurationOr(c.Query.Timeout, 30*time.Second)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}

	return d
}
