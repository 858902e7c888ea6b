package spawn

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ralphloop/internal/logging"
)

// BatchRequest is one prompt in a batch spawn.
type BatchRequest struct {
	Prompt string
	Config Config
}

// SpawnBatch runs each request through SpawnWithRetry with at most
// maxConcurrent spawns in flight. Results come back in submission order. A
// canceled context aborts pending requests; their results carry the
// cancellation error.
func SpawnBatch(ctx context.Context, reqs []BatchRequest, rc RetryConfig, cb *CircuitBreaker, maxConcurrent int) []Result {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	results := make([]Result, len(reqs))
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)

	logging.Spawn("batch of %d spawns (max concurrent %d)", len(reqs), maxConcurrent)

	for i, req := range reqs {
		i, req := i, req
		if err := sem.Acquire(gctx, 1); err != nil {
			results[i] = Result{Error: "batch canceled: " + err.Error(), ExitCode: -1}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = SpawnWithRetry(gctx, req.Prompt, req.Config, rc, cb)
			return nil
		})
	}

	_ = g.Wait()
	return results
}
