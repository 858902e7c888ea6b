// Package loop implements the supervised verification loop that runs inside
// the host's stop hook: verify, retry in context, escalate to an isolated
// spawn, re-verify, and give up after a bounded number of iterations.
package loop

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"ralphloop/internal/logging"
)

// VerifyConfig is the static half of the verification state file, written by
// whatever armed the loop.
type VerifyConfig struct {
	// Command is the shell command whose exit code defines success.
	Command string `json:"command"`
	// TimeoutMS bounds one verification run, in milliseconds.
	TimeoutMS int `json:"timeout"`
	// MaxIterations caps the total loop iterations before exhaustion.
	MaxIterations int `json:"maxIterations"`
	// WorkingDir is where the command runs. Empty means the workspace root.
	WorkingDir string `json:"workingDir"`
	// OriginalGoal describes what the session set out to accomplish.
	OriginalGoal string `json:"originalGoal"`
}

// VerifyProgress is the mutable half: loop position and last outcome.
type VerifyProgress struct {
	Iteration  int    `json:"iteration"`
	LastResult string `json:"lastResult,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

// VerifyState is the on-disk verification state. Its presence arms the loop;
// removing the file disarms it.
type VerifyState struct {
	Config VerifyConfig   `json:"config"`
	State  VerifyProgress `json:"state"`
}

// LoadVerifyState reads the state file at path. A missing file returns
// (nil, nil): the loop is simply not armed. A malformed file is an error so
// the caller can disarm rather than loop on garbage.
func LoadVerifyState(path string) (*VerifyState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read verify state: %w", err)
	}

	var vs VerifyState
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, fmt.Errorf("malformed verify state: %w", err)
	}
	if strings.TrimSpace(vs.Config.Command) == "" {
		return nil, fmt.Errorf("verify state has no command")
	}
	if vs.Config.MaxIterations <= 0 {
		vs.Config.MaxIterations = 10
	}
	if vs.Config.TimeoutMS <= 0 {
		vs.Config.TimeoutMS = 120000
	}
	return &vs, nil
}

// SaveVerifyState writes the state back to path.
func SaveVerifyState(path string, vs *VerifyState) error {
	data, err := json.MarshalIndent(vs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal verify state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write verify state: %w", err)
	}
	return nil
}

// ClearVerifyState disarms the loop by removing the state file.
func ClearVerifyState(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Loop("failed to clear verify state %s: %v", path, err)
	}
}
