package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"ralphloop/internal/workspace"
)

// newHookCmd builds a bare command wired to the given stdin payload, the way
// the host invokes a hook.
func newHookCmd(t *testing.T, stdin string) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	t.Setenv(workspace.EnvWorkspace, t.TempDir())

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetIn(strings.NewReader(stdin))
	var out bytes.Buffer
	cmd.SetOut(&out)
	return cmd, &out
}

func TestRunStopHookUnarmedAllows(t *testing.T) {
	cmd, out := newHookCmd(t, `{"session_id": "s1"}`)

	if err := runStopHook(cmd, nil); err != nil {
		t.Fatalf("runStopHook: %v", err)
	}
	if !strings.Contains(out.String(), `"decision":null`) {
		t.Errorf("unarmed stop must allow termination, got %s", out.String())
	}
}

func TestRunStopHookMalformedInputAllows(t *testing.T) {
	cmd, out := newHookCmd(t, "{not json")

	if err := runStopHook(cmd, nil); err != nil {
		t.Fatalf("runStopHook: %v", err)
	}
	if !strings.Contains(out.String(), `"decision":null`) {
		t.Errorf("malformed input must not block, got %s", out.String())
	}
}

func TestRunPostToolHookNoSessionAllows(t *testing.T) {
	cmd, out := newHookCmd(t, `{"tool_name": "Edit", "tool_input": {"file_path": "/x.go"}}`)

	if err := runPostToolHook(cmd, nil); err != nil {
		t.Fatalf("runPostToolHook: %v", err)
	}
	if !strings.Contains(out.String(), `"decision":null`) {
		t.Errorf("tracking without a session must allow, got %s", out.String())
	}
}
