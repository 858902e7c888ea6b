package spawn

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeScript drops an executable shell script standing in for the agent CLI.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-agent")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755)
	require.NoError(t, err)
	return path
}

func TestSpawnMissingBinaryIsConfigError(t *testing.T) {
	res := Spawn(context.Background(), "prompt", Config{Binary: "/no/such/agent-binary"})

	if res.Success {
		t.Fatal("want failure")
	}
	if !res.ConfigError {
		t.Error("missing binary must be a config error")
	}
	if !strings.Contains(res.Error, "not found") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSpawnSuccessPlainOutput(t *testing.T) {
	bin := writeScript(t, `echo "all done"`)

	res := Spawn(context.Background(), "prompt", Config{Binary: bin, OutputFormat: "text"})

	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "all done") {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestSpawnReceivesPromptOnStdin(t *testing.T) {
	bin := writeScript(t, `cat`)

	res := Spawn(context.Background(), "the prompt text", Config{Binary: bin, OutputFormat: "text"})

	require.True(t, res.Success)
	require.Contains(t, res.Output, "the prompt text")
}

func TestSpawnNonZeroExit(t *testing.T) {
	bin := writeScript(t, `echo "boom" >&2; exit 3`)

	res := Spawn(context.Background(), "prompt", Config{Binary: bin})

	if res.Success {
		t.Fatal("want failure")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("Error = %q, want stderr content", res.Error)
	}
	if res.ConfigError {
		t.Error("execution failure must not be a config error")
	}
}

func TestSpawnTimeout(t *testing.T) {
	bin := writeScript(t, `echo "partial progress"; sleep 10`)

	start := time.Now()
	res := Spawn(context.Background(), "prompt", Config{Binary: bin, Timeout: 100 * time.Millisecond})

	if res.Success {
		t.Fatal("want failure")
	}
	if !res.TimedOut {
		t.Error("TimedOut not set")
	}
	if res.Output != "" {
		t.Errorf("partial output should be discarded on timeout, got %q", res.Output)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("spawn did not honor timeout, took %s", elapsed)
	}
}

func TestSpawnParsesJSONStats(t *testing.T) {
	bin := writeScript(t, `echo '{"total_cost_usd": 0.25, "duration_ms": 1200, "num_turns": 4, "session_id": "s1", "is_error": false, "result": "fixed the bug", "usage": {"input_tokens": 900, "output_tokens": 120, "cache_read_input_tokens": 4000, "cache_creation_input_tokens": 50}}'`)

	res := Spawn(context.Background(), "prompt", Config{Binary: bin, OutputFormat: "json"})

	require.True(t, res.Success)
	require.NotNil(t, res.Stats)
	require.Equal(t, 0.25, res.Stats.CostUSD)
	require.Equal(t, 4, res.Stats.NumTurns)
	require.Equal(t, int64(900), res.Stats.Usage.InputTokens)
	require.Equal(t, int64(4000), res.Stats.Usage.CacheReadTokens)
	require.Equal(t, "fixed the bug", res.Output)
}

func TestSpawnJSONErrorReport(t *testing.T) {
	bin := writeScript(t, `echo '{"is_error": true, "result": "could not finish"}'`)

	res := Spawn(context.Background(), "prompt", Config{Binary: bin, OutputFormat: "json"})

	if res.Success {
		t.Error("is_error=true should mark the spawn failed")
	}
	if res.Stats == nil {
		t.Fatal("stats should still parse")
	}
}

func TestSpawnMarksChildAsSpawned(t *testing.T) {
	bin := writeScript(t, `echo "spawned=$RALPH_SPAWNED"`)

	res := Spawn(context.Background(), "prompt", Config{Binary: bin, OutputFormat: "text"})

	require.True(t, res.Success)
	require.Contains(t, res.Output, "spawned=true")
}

func TestSpawnOutputTailCapped(t *testing.T) {
	// 100k of output; only the tail survives.
	bin := writeScript(t, `i=0; while [ $i -lt 1000 ]; do printf '0123456789012345678901234567890123456789012345678901234567890123456789012345678901234567890123456789\n'; i=$((i+1)); done; echo "THE END"`)

	res := Spawn(context.Background(), "prompt", Config{Binary: bin, OutputFormat: "text"})

	require.True(t, res.Success)
	if len(res.Output) > maxCapturedOutput+100 {
		t.Errorf("output length = %d, want capped near %d", len(res.Output), maxCapturedOutput)
	}
	require.Contains(t, res.Output, "THE END")
	require.Contains(t, res.Output, "[truncated]")
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs(Config{
		MaxBudgetUSD:     1.5,
		OutputFormat:     "json",
		PermissionMode:   "delegate",
		WorkingDirectory: "/repo",
	})

	joined := strings.Join(args, " ")
	for _, want := range []string{"--print", "--max-budget-usd=1.50", "--output-format=json", "--allowedTools=", "--add-dir=/repo"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %v missing %q", args, want)
		}
	}
	if strings.Contains(joined, "--dangerously-skip-permissions") {
		t.Error("delegate mode must not skip permissions")
	}

	bypass := strings.Join(buildArgs(Config{PermissionMode: "bypass"}), " ")
	if !strings.Contains(bypass, "--dangerously-skip-permissions") {
		t.Error("bypass mode should skip permissions")
	}
	if strings.Contains(bypass, "--allowedTools") {
		t.Error("bypass mode should not pass an allowlist")
	}
}
