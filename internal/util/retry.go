package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/go-the-way/novnc4svc/internal/config"
)

// RetryConfig controls exponential backoff for dial attempts
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (0 = try once)
	MaxRetries int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps any single delay
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts (default: 2.0)
	Multiplier float64
	// Jitter spreads delays by +/- this fraction (0.0 - 1.0)
	Jitter float64
	// RetryIf decides whether an error is worth another attempt
	RetryIf func(error) bool
	// OnRetry is called before sleeping with the attempt that just failed
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the backoff used when nothing is configured
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
		RetryIf:    DefaultRetryIf(),
	}
}

// RetryConfigFromDial builds a RetryConfig from the dial section of the config file
func RetryConfigFromDial(d config.DialConfig) *RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxRetries = d.RetryAttempts
	if d.RetryBaseDelayMs > 0 {
		rc.BaseDelay = time.Duration(d.RetryBaseDelayMs) * time.Millisecond
	}
	if d.RetryMaxDelayMs > 0 {
		rc.MaxDelay = time.Duration(d.RetryMaxDelayMs) * time.Millisecond
	}
	return rc
}

// RetryResult reports how a retried operation went
type RetryResult struct {
	Attempts  int
	LastError error
	Duration  time.Duration
}

// ErrMaxRetriesExceeded is joined with the last error once attempts run out
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// ErrContextCanceled is joined with ctx.Err() when the wait is interrupted
var ErrContextCanceled = errors.New("context canceled during retry")

// Retry runs fn until it succeeds, fails permanently, or attempts run out
func Retry(ctx context.Context, cfg *RetryConfig, fn func() error) *RetryResult {
	_, result := RetryWithValue(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return result
}

// RetryWithValue is Retry for functions that produce a value, such as a dial
func RetryWithValue[T any](ctx context.Context, cfg *RetryConfig, fn func() (T, error)) (T, *RetryResult) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var zero T
	result := &RetryResult{}
	start := time.Now()

	for {
		result.Attempts++

		val, err := fn()
		if err == nil {
			result.LastError = nil
			result.Duration = time.Since(start)
			return val, result
		}
		result.LastError = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			result.Duration = time.Since(start)
			return zero, result
		}

		if cfg.MaxRetries >= 0 && result.Attempts > cfg.MaxRetries {
			result.LastError = errors.Join(ErrMaxRetriesExceeded, err)
			result.Duration = time.Since(start)
			return zero, result
		}

		delay := calculateDelay(cfg, result.Attempts)
		if cfg.OnRetry != nil {
			cfg.OnRetry(result.Attempts, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = errors.Join(ErrContextCanceled, ctx.Err())
			result.Duration = time.Since(start)
			return zero, result
		case <-timer.C:
		}
	}
}

// calculateDelay returns baseDelay * multiplier^(attempt-1), jittered and clamped
func calculateDelay(cfg *RetryConfig, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt-1))

	if cfg.Jitter > 0 {
		jitterRange := delay * cfg.Jitter
		delay = delay - jitterRange + (rand.Float64() * 2 * jitterRange)
	}

	if cfg.MaxDelay > 0 && time.Duration(delay) > cfg.MaxDelay {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}

// PermanentError marks an error that no retry can fix, such as a
// rejected handshake or a malformed URL.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so DefaultRetryIf stops retrying it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// DefaultRetryIf retries everything except permanent errors and context expiry
func DefaultRetryIf() func(error) bool {
	return func(err error) bool {
		if IsPermanent(err) {
			return false
		}
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
}
