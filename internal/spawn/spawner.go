// Package spawn launches isolated agent CLI instances and shields the caller
// from their failure modes: retry with backoff for transient errors, a
// circuit breaker for systemic ones, and a hard distinction between
// configuration errors (never retried) and execution errors (retried).
package spawn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"ralphloop/internal/logging"
	"ralphloop/internal/workspace"
)

// Config controls how an agent CLI instance is spawned.
type Config struct {
	// Binary is the agent CLI executable. Defaults to "claude".
	Binary string
	// MaxBudgetUSD caps the spend of a single spawn. Zero means no cap flag.
	MaxBudgetUSD float64
	// Timeout bounds the spawn's wall time. Zero means no timeout.
	Timeout time.Duration
	// PermissionMode selects how the spawned instance acquires permissions.
	// "delegate" grants the fixed tool allowlist; "bypass" skips permission
	// checks entirely.
	PermissionMode string
	// OutputFormat is passed through to the CLI. "json" enables stats parsing.
	OutputFormat string
	// WorkingDirectory is granted to the spawned instance via --add-dir and
	// used as its cwd. Empty means inherit.
	WorkingDirectory string
}

// DefaultConfig returns the spawn configuration used when nothing is
// configured.
func DefaultConfig() Config {
	return Config{
		Binary:         "claude",
		MaxBudgetUSD:   1.00,
		Timeout:        5 * time.Minute,
		PermissionMode: "delegate",
		OutputFormat:   "json",
	}
}

// Usage is the token accounting block a JSON-format spawn reports.
type Usage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
}

// Stats are the usage numbers a JSON-format spawn reports.
type Stats struct {
	Usage      Usage   `json:"usage"`
	CostUSD    float64 `json:"total_cost_usd"`
	DurationMS int64   `json:"duration_ms"`
	NumTurns   int     `json:"num_turns"`
	SessionID  string  `json:"session_id"`
	IsError    bool    `json:"is_error"`
	ResultText string  `json:"result"`
}

// Result is the outcome of one spawn, after any retries.
type Result struct {
	Success     bool
	Output      string
	Error       string
	ExitCode    int
	TimedOut    bool
	RetriesUsed int
	// ConfigError marks a failure that retrying cannot fix (missing binary,
	// bad arguments). Config errors never count against the breaker budget
	// for retries.
	ConfigError bool
	// CircuitOpen marks a spawn that was refused without execution.
	CircuitOpen bool
	Stats       *Stats
}

// allowedTools is the fixed allowlist granted to delegate-mode spawns.
const allowedTools = "Read,Edit,Write,Bash,Glob,Grep"

const maxCapturedOutput = 5000

// Spawn runs one agent CLI instance with the given prompt. It blocks until
// the instance exits, the context is done, or the config timeout elapses.
func Spawn(ctx context.Context, prompt string, cfg Config) Result {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}

	binPath, err := exec.LookPath(cfg.Binary)
	if err != nil {
		logging.Spawn("binary %q not found: %v", cfg.Binary, err)
		return Result{
			Error:       fmt.Sprintf("agent binary %q not found in PATH", cfg.Binary),
			ExitCode:    -1,
			ConfigError: true,
		}
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	args := buildArgs(cfg)
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stdin = strings.NewReader(prompt)
	if cfg.WorkingDirectory != "" {
		cmd.Dir = cfg.WorkingDirectory
	}

	// Mark the child so it never escalates again: depth is capped at one.
	cmd.Env = append(os.Environ(), workspace.EnvSpawned+"=true")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Spawn("spawning %s (timeout=%s, budget=$%.2f)", cfg.Binary, cfg.Timeout, cfg.MaxBudgetUSD)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		Output: capTail(stdout.String(), maxCapturedOutput),
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Partial output from a killed instance is untrustworthy; drop it.
			res.Output = ""
			res.TimedOut = true
			res.ExitCode = -1
			res.Error = fmt.Sprintf("spawn timed out after %s", elapsed.Round(time.Second))
			logging.Spawn("spawn timed out after %s", elapsed.Round(time.Second))
			return res
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		res.Error = firstNonEmpty(capTail(stderr.String(), maxCapturedOutput), runErr.Error())
		logging.Spawn("spawn failed (exit=%d): %s", res.ExitCode, res.Error)
		return res
	}

	res.Success = true
	if cfg.OutputFormat == "json" {
		if stats := parseJSONOutput(stdout.Bytes()); stats != nil {
			res.Stats = stats
			if stats.ResultText != "" {
				res.Output = capTail(stats.ResultText, maxCapturedOutput)
			}
			if stats.IsError {
				res.Success = false
				res.Error = "spawned instance reported an error"
			}
			logging.SpawnDebug("spawn stats: cost=$%.4f turns=%d duration=%dms",
				stats.CostUSD, stats.NumTurns, stats.DurationMS)
		}
	}

	logging.Spawn("spawn completed in %s (success=%v)", elapsed.Round(time.Millisecond), res.Success)
	return res
}

func buildArgs(cfg Config) []string {
	args := []string{"--print"}
	if cfg.MaxBudgetUSD > 0 {
		args = append(args, fmt.Sprintf("--max-budget-usd=%.2f", cfg.MaxBudgetUSD))
	}
	if cfg.OutputFormat != "" {
		args = append(args, "--output-format="+cfg.OutputFormat)
	}
	switch cfg.PermissionMode {
	case "bypass":
		args = append(args, "--dangerously-skip-permissions")
	default:
		args = append(args, "--allowedTools="+allowedTools)
	}
	if cfg.WorkingDirectory != "" {
		args = append(args, "--add-dir="+cfg.WorkingDirectory)
	}
	return args
}

// parseJSONOutput extracts the stats object from JSON-format CLI output. The
// CLI prints a single JSON document on success; anything else returns nil.
func parseJSONOutput(out []byte) *Stats {
	out = bytes.TrimSpace(out)
	if len(out) == 0 || out[0] != '{' {
		return nil
	}
	var stats Stats
	if err := json.Unmarshal(out, &stats); err != nil {
		return nil
	}
	return &stats
}

// capTail keeps the last max bytes of s; failure details cluster at the end
// of tool output.
func capTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "...[truncated]...\n" + s[len(s)-max:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
