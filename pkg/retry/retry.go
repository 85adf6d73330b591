// Package retry provides exponential backoff retry logic driven by the
// driver error taxonomy (pkg/errors), used by the File Operations Engine
// for its listing and auth-refresh retry policy.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/unidrive/core/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the backoff.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the exponential backoff factor.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds ±20% randomness to each delay to avoid thundering herd.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// OnRetry is invoked before each wait, e.g. for structured logging.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// ListConfig is the listing retry policy: at most two retries, 500ms
// base, exponential, ±20% jitter.
func ListConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// TransferConfig is the general Transient policy for bulk transfer driver
// calls: at most two retries with a longer ceiling.
func TransferConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RateLimitConfig is the RateLimited policy: up to 3 attempts with
// exponential backoff from a 2s base. The delay comes from the backoff
// alone; OnRetry only observes it, so a Retry-After value is not honored.
func RateLimitConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     20 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes a function with exponential backoff, retrying only on
// errors whose classified Kind is retryable.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling in sane defaults for zero fields.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do runs fn with retry, using context.Background for cancellation.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext runs fn with retry, aborting immediately if ctx is done —
// this is how a cancelled/paused task (§5) interrupts a retry loop.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		if attempt < r.config.MaxAttempts {
			delay := r.calculateDelay(attempt)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, err, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// shouldRetry classifies err via pkg/errors and applies the Kind.Retryable
// rule (§7): unclassified errors default to not-retryable, matching the
// "drivers that cannot classify default to Permanent" rule.
func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}

	var de *errors.DriverError
	if stderr.As(err, &de) {
		return de.Retryable()
	}
	return false
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
