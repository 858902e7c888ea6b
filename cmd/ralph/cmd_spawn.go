package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ralphloop/internal/config"
	"ralphloop/internal/spawn"
	"ralphloop/internal/workspace"
)

var (
	spawnBudget  float64
	spawnTimeout time.Duration
	spawnMode    string
	spawnDir     string
	spawnBatch   bool
)

// spawnCmd runs an isolated agent instance directly, outside the loop.
// Useful for testing spawn configuration and for ad-hoc delegation.
var spawnCmd = &cobra.Command{
	Use:   "spawn [prompt...]",
	Short: "Spawn an isolated agent instance with a prompt",
	Long: `Spawns an isolated agent CLI instance through the same retry and
circuit-breaker path the verification loop uses.

The prompt is taken from the arguments, or from stdin when no arguments are
given. With --batch, each non-empty stdin line becomes its own spawn, run
with the configured concurrency limit.`,
	RunE: runSpawn,
}

func init() {
	spawnCmd.Flags().Float64Var(&spawnBudget, "budget", 0, "Max budget in USD (0 = config default)")
	spawnCmd.Flags().DurationVar(&spawnTimeout, "timeout", 0, "Spawn timeout (0 = config default)")
	spawnCmd.Flags().StringVar(&spawnMode, "permission-mode", "", "Permission mode: delegate or bypass")
	spawnCmd.Flags().StringVar(&spawnDir, "dir", "", "Working directory granted to the instance")
	spawnCmd.Flags().BoolVar(&spawnBatch, "batch", false, "Treat each stdin line as a separate prompt")
}

func runSpawn(cmd *cobra.Command, args []string) error {
	cfg := config.Load(workspace.ConfigPath())

	sc := spawn.Config{
		Binary:           cfg.Spawner.Binary,
		MaxBudgetUSD:     cfg.Verification.Isolation.MaxBudgetUSD,
		Timeout:          cfg.SpawnTimeout(),
		PermissionMode:   cfg.Verification.Isolation.PermissionMode,
		OutputFormat:     "json",
		WorkingDirectory: spawnDir,
	}
	if spawnBudget > 0 {
		sc.MaxBudgetUSD = spawnBudget
	}
	if spawnTimeout > 0 {
		sc.Timeout = spawnTimeout
	}
	if spawnMode != "" {
		sc.PermissionMode = spawnMode
	}

	rc := spawn.RetryConfig{
		MaxRetries:      cfg.Spawner.MaxRetries,
		BaseDelay:       msToDuration(cfg.Spawner.BaseDelayMS),
		MaxDelay:        msToDuration(cfg.Spawner.MaxDelayMS),
		ExponentialBase: 2.0,
		Jitter:          true,
	}
	breaker := spawn.NewCircuitBreaker(spawn.BreakerConfig{
		FailureThreshold: cfg.Spawner.FailThreshold,
		RecoveryTimeout:  secondsToDuration(cfg.Spawner.RecoveryS),
		HalfOpenMaxCalls: cfg.Spawner.HalfOpenCalls,
	})

	if spawnBatch {
		return runSpawnBatch(cmd, sc, rc, breaker, cfg.Spawner.MaxConcurrent)
	}

	prompt := strings.Join(args, " ")
	if prompt == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("no prompt given")
	}

	res := spawn.SpawnWithRetry(cmd.Context(), prompt, sc, rc, breaker)
	printResult(cmd, res)

	if !res.Success {
		return fmt.Errorf("spawn failed")
	}
	return nil
}

func runSpawnBatch(cmd *cobra.Command, sc spawn.Config, rc spawn.RetryConfig, breaker *spawn.CircuitBreaker, maxConcurrent int) error {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("failed to read prompts from stdin: %w", err)
	}

	var reqs []spawn.BatchRequest
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		reqs = append(reqs, spawn.BatchRequest{Prompt: line, Config: sc})
	}
	if len(reqs) == 0 {
		return fmt.Errorf("no prompts on stdin")
	}

	logger.Info("running spawn batch",
		zap.Int("prompts", len(reqs)),
		zap.Int("max_concurrent", maxConcurrent))

	results := spawn.SpawnBatch(cmd.Context(), reqs, rc, breaker, maxConcurrent)

	failed := 0
	for i, res := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "--- prompt %d ---\n", i+1)
		printResult(cmd, res)
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d spawns failed", failed, len(results))
	}
	return nil
}

func printResult(cmd *cobra.Command, res spawn.Result) {
	out := cmd.OutOrStdout()
	if res.Success {
		fmt.Fprintln(out, res.Output)
	} else {
		fmt.Fprintf(out, "spawn failed: %s\n", res.Error)
	}
	if res.Stats != nil {
		fmt.Fprintf(out, "[cost=$%.4f turns=%d duration=%s retries=%d]\n",
			res.Stats.CostUSD, res.Stats.NumTurns,
			msToDuration(int(res.Stats.DurationMS)).Round(time.Millisecond), res.RetriesUsed)
	}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
