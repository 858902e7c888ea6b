package loop

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"ralphloop/internal/logging"
)

// RunResult is the outcome of one verification command run.
type RunResult struct {
	Passed   bool
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

const maxOutputTail = 5000

// passthroughEnv is the only environment the verification command sees. The
// verification must not depend on loop-internal variables, and must not see
// the spawned marker of the process running it.
var passthroughEnv = []string{"PATH", "HOME", "USER", "SHELL", "NODE_ENV", "CI"}

// RunVerification executes the configured command via the shell and reports
// whether it exited zero.
func RunVerification(ctx context.Context, cfg VerifyConfig) RunResult {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.Command)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}

	env := make([]string, 0, len(passthroughEnv))
	for _, key := range passthroughEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Loop("running verification: %s (timeout=%s)", cfg.Command, timeout)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := RunResult{
		Stdout:   tail(stdout.String(), maxOutputTail),
		Stderr:   tail(stderr.String(), maxOutputTail),
		Duration: elapsed,
	}

	if runErr == nil {
		res.Passed = true
		logging.Loop("verification passed in %s", elapsed.Round(time.Millisecond))
		return res
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		logging.Loop("verification timed out after %s", elapsed.Round(time.Second))
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = -1
		res.Stderr = firstNonEmpty(res.Stderr, runErr.Error())
	}
	logging.Loop("verification failed (exit=%d) in %s", res.ExitCode, elapsed.Round(time.Millisecond))
	return res
}

// CombinedOutput returns stderr and stdout joined for feedback, stderr
// first; error detail usually lives there.
func (r RunResult) CombinedOutput() string {
	switch {
	case r.Stderr != "" && r.Stdout != "":
		return r.Stderr + "\n" + r.Stdout
	case r.Stderr != "":
		return r.Stderr
	default:
		return r.Stdout
	}
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "...[truncated]...\n" + s[len(s)-max:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
