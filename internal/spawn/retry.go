package spawn

import (
	"context"
	"math"
	"math/rand"
	"time"

	"ralphloop/internal/logging"
)

// RetryConfig controls retry behavior for transient spawn failures.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// ExponentialBase is the backoff multiplier per attempt.
	ExponentialBase float64
	// Jitter adds +/-25% randomization to each delay when true.
	Jitter bool
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}
}

// backoffDelay computes the delay before retry number attempt (0-based).
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	expo := cfg.ExponentialBase
	if expo <= 1 {
		expo = 2.0
	}

	d := time.Duration(float64(base) * math.Pow(expo, float64(attempt)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter {
		// +/-25%
		jitter := 0.75 + rand.Float64()*0.5
		d = time.Duration(float64(d) * jitter)
	}
	return d
}

// spawnWithRetry runs attempt until it succeeds or the retry budget is
// exhausted. Config errors and circuit-open refusals abort immediately:
// retrying cannot fix a missing binary, and retrying through an open breaker
// defeats its purpose.
func spawnWithRetry(ctx context.Context, cfg RetryConfig, attempt func(context.Context) Result) Result {
	var res Result
	for try := 0; ; try++ {
		res = attempt(ctx)
		res.RetriesUsed = try
		if res.Success || res.ConfigError || res.CircuitOpen {
			return res
		}
		if try >= cfg.MaxRetries {
			logging.Spawn("retry budget exhausted after %d attempts: %s", try+1, res.Error)
			return res
		}

		delay := backoffDelay(cfg, try)
		logging.Spawn("attempt %d failed (%s), retrying in %s", try+1, res.Error, delay.Round(time.Millisecond))
		select {
		case <-ctx.Done():
			res.Error = "canceled while waiting to retry: " + ctx.Err().Error()
			return res
		case <-time.After(delay):
		}
	}
}

// SpawnWithRetry spawns with the retry policy and routes every attempt
// through the breaker when one is provided.
func SpawnWithRetry(ctx context.Context, prompt string, cfg Config, rc RetryConfig, cb *CircuitBreaker) Result {
	return spawnWithRetry(ctx, rc, func(ctx context.Context) Result {
		if cb != nil {
			if err := cb.Allow(); err != nil {
				return Result{
					Error:       err.Error() + "; " + cb.RecoveryHint(),
					ExitCode:    -1,
					CircuitOpen: true,
				}
			}
		}

		res := Spawn(ctx, prompt, cfg)

		// Every executed attempt moves the breaker, config errors included:
		// a missing binary failing silently forever is exactly the systemic
		// condition the breaker exists to surface.
		if cb != nil {
			if res.Success {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
		}
		return res
	})
}
