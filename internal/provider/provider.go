// Package provider implements the generation capability behind the worker:
// a deterministic mock for development and tests, and a rate-limited HTTP
// client for a remote generation service.
package provider

import (
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/store3d/forge/internal/common"
	"github.com/store3d/forge/internal/interfaces"
)

// ErrTransient marks provider failures worth retrying (timeouts, throttling,
// 5xx responses). The worker retries these up to its attempt budget.
var ErrTransient = errors.New("transient provider error")

// ErrFatal marks provider failures that will not succeed on retry (rejected
// input, unsupported mode). The worker fails the job immediately.
var ErrFatal = errors.New("fatal provider error")

// Transient wraps err as retryable
func Transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// Fatal wraps err as non-retryable
func Fatal(err error) error {
	return fmt.Errorf("%w: %v", ErrFatal, err)
}

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether err is non-retryable
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// New constructs the provider selected by config
func New(cfg *common.ProviderConfig, logger arbor.ILogger) (interfaces.GenerationProvider, error) {
	switch cfg.Default {
	case "mock", "":
		return NewMockProvider(), nil
	case "remote":
		if cfg.Remote.BaseURL == "" {
			return nil, fmt.Errorf("remote provider selected but base_url is not configured")
		}
		opts := []ClientOption{WithLogger(logger)}
		if cfg.Remote.RateLimit > 0 {
			opts = append(opts, WithRateLimit(cfg.Remote.RateLimit))
		}
		if timeout := common.ParseDuration(cfg.Remote.Timeout, 0); timeout > 0 {
			opts = append(opts, WithTimeout(timeout))
		}
		return NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Default)
	}
}
