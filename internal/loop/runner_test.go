package loop

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestRunVerificationPass(t *testing.T) {
	skipWithoutShell(t)

	res := RunVerification(context.Background(), VerifyConfig{Command: "exit 0", TimeoutMS: 5000})
	if !res.Passed {
		t.Fatalf("result = %+v, want pass", res)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestRunVerificationFail(t *testing.T) {
	skipWithoutShell(t)

	res := RunVerification(context.Background(), VerifyConfig{Command: "echo nope >&2; exit 2", TimeoutMS: 5000})
	if res.Passed {
		t.Fatal("want failure")
	}
	if res.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "nope") {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestRunVerificationTimeout(t *testing.T) {
	skipWithoutShell(t)

	start := time.Now()
	res := RunVerification(context.Background(), VerifyConfig{Command: "sleep 10", TimeoutMS: 100})
	if res.Passed || !res.TimedOut {
		t.Fatalf("result = %+v, want timeout", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout not honored")
	}
}

func TestRunVerificationFilteredEnv(t *testing.T) {
	skipWithoutShell(t)

	t.Setenv("RALPH_SPAWNED", "true")
	t.Setenv("SOME_SECRET", "hunter2")

	res := RunVerification(context.Background(), VerifyConfig{Command: "env", TimeoutMS: 5000})
	if !res.Passed {
		t.Fatalf("env failed: %+v", res)
	}
	if strings.Contains(res.Stdout, "RALPH_SPAWNED") {
		t.Error("loop-internal variables leaked into the verification env")
	}
	if strings.Contains(res.Stdout, "SOME_SECRET") {
		t.Error("unrelated variables leaked into the verification env")
	}
	if !strings.Contains(res.Stdout, "PATH=") {
		t.Error("PATH should pass through")
	}
}

func TestRunVerificationWorkingDir(t *testing.T) {
	skipWithoutShell(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here"), 0644); err != nil {
		t.Fatal(err)
	}

	res := RunVerification(context.Background(), VerifyConfig{Command: "cat marker.txt", TimeoutMS: 5000, WorkingDir: dir})
	if !res.Passed {
		t.Fatalf("cat failed: %+v", res)
	}
	if !strings.Contains(res.Stdout, "here") {
		t.Errorf("Stdout = %q, command did not run in working dir", res.Stdout)
	}
}

func TestCombinedOutputOrdering(t *testing.T) {
	r := RunResult{Stdout: "out", Stderr: "err"}
	if got := r.CombinedOutput(); got != "err\nout" {
		t.Errorf("CombinedOutput = %q", got)
	}
	if got := (RunResult{Stdout: "out"}).CombinedOutput(); got != "out" {
		t.Errorf("CombinedOutput = %q", got)
	}
	if got := (RunResult{Stderr: "err"}).CombinedOutput(); got != "err" {
		t.Errorf("CombinedOutput = %q", got)
	}
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("verification runner requires a POSIX shell")
	}
}
