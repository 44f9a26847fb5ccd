package util

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig controls Retry's backoff schedule. Zero values fall back to
// the defaults noted per field.
type RetryConfig struct {
	// MaxAttempts bounds total calls to fn, first try included (default 3).
	MaxAttempts int

	// InitialDelay is the sleep before the first retry (default 100ms).
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth (default 5s).
	MaxDelay time.Duration

	// Multiplier grows the delay after each failed attempt (default 2.0).
	Multiplier float64

	// Jitter stretches each sleep by up to 25% so parallel callers hitting
	// the same tmux server do not retry in lockstep (default true).
	Jitter bool

	// IsRetryable gates retries per error; nil means DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultRetryConfig suits the two retry sites in this codebase: tmux
// shell-outs and outbound HTTP (Anthropic, Telegram).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		IsRetryable:  DefaultIsRetryable,
	}
}

func (c *RetryConfig) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
}

// transientMarkers are substrings of error text seen from a busy tmux
// server or a flaky network hop. Matched case-insensitively. Anything not
// listed is treated as permanent; "no such session" and friends must fail
// straight through.
var transientMarkers = []string{
	"resource temporarily unavailable",
	"server not found",
	"connection refused",
	"connection reset",
	"connection timed out",
	"timeout",
	"temporary failure",
	"try again",
	"broken pipe",
	"network is unreachable",
	"no route to host",
	"eof",
}

// DefaultIsRetryable reports whether err looks transient.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Retry runs fn under cfg's backoff schedule and returns its first success
// or the last error once attempts are exhausted. Errors marked with
// MarkPermanent and errors rejected by IsRetryable return immediately;
// ctx cancellation is honored both between attempts and during sleeps.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if IsPermanent(err) || !cfg.IsRetryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := delay
		if cfg.Jitter {
			sleep += time.Duration(rand.Float64() * 0.25 * float64(delay))
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, lastErr
}

// RetryWithContext is Retry with DefaultRetryConfig.
func RetryWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return Retry(ctx, DefaultRetryConfig(), fn)
}

// PermanentError stops retries regardless of the IsRetryable gate.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a PermanentError mark.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// MarkPermanent wraps err so Retry gives up on it immediately.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
