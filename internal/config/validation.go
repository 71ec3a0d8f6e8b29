package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidBasePath indicates the sandbox base path is unusable.
	ErrInvalidBasePath = errors.New("invalid base path")

	// ErrInvalidRateLimit indicates the rate limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidRateWindow indicates the rate window is out of range.
	ErrInvalidRateWindow = errors.New("invalid rate window")

	// ErrInvalidFileSize indicates the file size limit is out of range.
	ErrInvalidFileSize = errors.New("invalid max file size")

	// ErrInvalidExtension indicates a malformed extension in the allow-list.
	ErrInvalidExtension = errors.New("invalid allowed extension")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// Validate performs fail-fast validation of the whole configuration.
// It returns the first problem found, wrapped around a sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.BasePath) == "" {
		return fmt.Errorf("%w: base_path is empty", ErrInvalidBasePath)
	}
	if !filepath.IsAbs(c.BasePath) {
		return fmt.Errorf("%w: base_path %q must be absolute", ErrInvalidBasePath, c.BasePath)
	}

	if c.RateLimitPerWindow < 1 {
		return fmt.Errorf("%w: %d (must be >= 1)", ErrInvalidRateLimit, c.RateLimitPerWindow)
	}
	if c.RateWindowSeconds < 1 {
		return fmt.Errorf("%w: %ds (must be >= 1s)", ErrInvalidRateWindow, c.RateWindowSeconds)
	}

	if c.MaxFileSizeMB < 1 || c.MaxFileSizeMB > 4096 {
		return fmt.Errorf("%w: %dMB (must be 1..4096)", ErrInvalidFileSize, c.MaxFileSizeMB)
	}

	for _, ext := range c.AllowedExtensions {
		if ext == "" || !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: %q (must start with a dot)", ErrInvalidExtension, ext)
		}
	}

	if c.CommandTimeoutSeconds < 1 || c.CommandTimeoutSeconds > 600 {
		return fmt.Errorf("%w: command_timeout_seconds %d (must be 1..600)", ErrInvalidTimeout, c.CommandTimeoutSeconds)
	}
	if c.RequestTimeoutSeconds < 1 || c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("%w: request_timeout_seconds %d (must be 1..600)", ErrInvalidTimeout, c.RequestTimeoutSeconds)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses LogLevel into a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
}
