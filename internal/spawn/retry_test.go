package spawn

import (
	"context"
	"testing"
	"time"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:      maxRetries,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second, ExponentialBase: 2.0}

	if d := backoffDelay(cfg, 0); d != time.Second {
		t.Errorf("attempt 0 delay = %s, want 1s", d)
	}
	if d := backoffDelay(cfg, 1); d != 2*time.Second {
		t.Errorf("attempt 1 delay = %s, want 2s", d)
	}
	if d := backoffDelay(cfg, 10); d != 5*time.Second {
		t.Errorf("attempt 10 delay = %s, want capped 5s", d)
	}
}

func TestBackoffDelayJitterBounds(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, ExponentialBase: 2.0, Jitter: true}

	for i := 0; i < 50; i++ {
		d := backoffDelay(cfg, 0)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("jittered delay %s outside +/-25%% of 1s", d)
		}
	}
}

func TestSpawnWithRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	res := spawnWithRetry(context.Background(), fastRetryConfig(3), func(context.Context) Result {
		attempts++
		if attempts < 3 {
			return Result{Error: "transient", ExitCode: 1}
		}
		return Result{Success: true}
	})

	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if res.RetriesUsed != 2 {
		t.Errorf("RetriesUsed = %d, want 2", res.RetriesUsed)
	}
}

func TestSpawnWithRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	res := spawnWithRetry(context.Background(), fastRetryConfig(2), func(context.Context) Result {
		attempts++
		return Result{Error: "always fails", ExitCode: 1}
	})

	if res.Success {
		t.Fatal("want failure after exhausting retries")
	}
	// 1 initial + 2 retries
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestSpawnWithRetryConfigErrorNotRetried(t *testing.T) {
	attempts := 0
	res := spawnWithRetry(context.Background(), fastRetryConfig(5), func(context.Context) Result {
		attempts++
		return Result{Error: "binary not found", ExitCode: -1, ConfigError: true}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, config errors must not be retried", attempts)
	}
	if !res.ConfigError {
		t.Error("ConfigError flag lost")
	}
}

func TestSpawnWithRetryCircuitOpenNotRetried(t *testing.T) {
	attempts := 0
	res := spawnWithRetry(context.Background(), fastRetryConfig(5), func(context.Context) Result {
		attempts++
		return Result{Error: "circuit breaker open", ExitCode: -1, CircuitOpen: true}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, open-circuit refusals must not be retried", attempts)
	}
	if !res.CircuitOpen {
		t.Error("CircuitOpen flag lost")
	}
}

func TestSpawnWithRetryCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	res := spawnWithRetry(ctx, RetryConfig{MaxRetries: 3, BaseDelay: time.Hour, ExponentialBase: 2.0}, func(context.Context) Result {
		attempts++
		cancel()
		return Result{Error: "fails", ExitCode: 1}
	})

	if res.Success {
		t.Fatal("want failure")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, cancellation should stop the retry wait", attempts)
	}
}

func TestSpawnWithRetryRoutesThroughBreaker(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})
	cb.RecordFailure()
	cb.RecordFailure() // breaker now open

	res := SpawnWithRetry(context.Background(), "prompt", Config{Binary: "/definitely/not/here"}, fastRetryConfig(2), cb)

	if !res.CircuitOpen {
		t.Fatalf("result = %+v, want circuit-open refusal", res)
	}
	if res.RetriesUsed != 0 {
		t.Errorf("RetriesUsed = %d, refusal should not consume retries", res.RetriesUsed)
	}
}

func TestSpawnWithRetryBreakerCountsFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 10, RecoveryTimeout: time.Hour})

	// A missing binary is never retried, but the attempt still counts one
	// breaker failure: repeating it forever is the systemic condition the
	// breaker guards against.
	res := SpawnWithRetry(context.Background(), "prompt", Config{Binary: "/definitely/not/here"}, fastRetryConfig(5), cb)
	if !res.ConfigError {
		t.Fatalf("result = %+v, want config error", res)
	}
	if res.RetriesUsed != 0 {
		t.Errorf("RetriesUsed = %d, config errors must not be retried", res.RetriesUsed)
	}
	if cb.Failures() != 1 {
		t.Errorf("Failures = %d, want exactly 1 recorded for the config error", cb.Failures())
	}
}
