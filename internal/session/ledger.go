// Package session persists per-session verification knowledge across hook
// invocations.
//
// Each hook runs as a fresh process, so everything the loop learns in one
// iteration has to survive on disk to inform the next. The ledger is the
// session's memory: the original goal, what was tried each iteration, what
// failed, what was learned, and which files changed along the way.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ralphloop/internal/logging"
)

// Change types recorded per file.
const (
	ChangeAdd    = "add"
	ChangeRemove = "remove"
	ChangeModify = "modify"
)

// FileChange is one observed mutation of a path. Appended, never mutated.
type FileChange struct {
	Type      string    `json:"type"` // add, remove, modify
	Details   string    `json:"details,omitempty"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// IterationRecord captures one verification attempt. Append-only; Number is
// assigned by the ledger and is unique and sequential within a session.
type IterationRecord struct {
	Number       int       `json:"number"`
	Approach     string    `json:"approach"`
	Result       string    `json:"result"`
	Lesson       string    `json:"lesson,omitempty"`
	FilesChanged []string  `json:"filesChanged,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// State is the on-disk form of a session ledger.
type State struct {
	SessionID           string                  `json:"sessionId"`
	OriginalGoal        string                  `json:"originalGoal"`
	VerificationCommand string                  `json:"verificationCommand"`
	WorkingDirectory    string                  `json:"workingDirectory"`
	StartedAt           time.Time               `json:"startedAt"`
	UpdatedAt           time.Time               `json:"updatedAt"`
	Iterations          []IterationRecord       `json:"iterations"`
	FileChanges         map[string][]FileChange `json:"fileChanges"`
}

// Ledger is the live handle over a session's state. Safe for concurrent use.
// Every mutation persists synchronously before returning: the process may
// exit at any moment after a hook responds, so a crash loses at most the
// in-flight operation.
type Ledger struct {
	mu    sync.RWMutex
	path  string
	state State
}

// Open loads the ledger for sessionID from dir, creating a fresh one if no
// ledger exists yet. A corrupt ledger file is discarded rather than
// propagated; losing history is recoverable, crashing the hook is not.
func Open(dir, sessionID string) (*Ledger, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}

	l := &Ledger{
		path: filepath.Join(dir, sessionID+".json"),
		state: State{
			SessionID:   sessionID,
			StartedAt:   time.Now(),
			FileChanges: make(map[string][]FileChange),
		},
	}

	data, err := os.ReadFile(l.path)
	if err == nil {
		var st State
		if jsonErr := json.Unmarshal(data, &st); jsonErr == nil && st.SessionID == sessionID {
			if st.FileChanges == nil {
				st.FileChanges = make(map[string][]FileChange)
			}
			l.state = st
		} else {
			logging.Session("discarding corrupt ledger %s: %v", l.path, jsonErr)
		}
	}

	return l, nil
}

// Path returns the ledger's on-disk location.
func (l *Ledger) Path() string {
	return l.path
}

// SetGoal records the session's original goal. The first non-empty goal wins;
// later iterations must not rewrite what the session set out to do.
func (l *Ledger) SetGoal(goal string) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.OriginalGoal != "" {
		return
	}
	l.state.OriginalGoal = goal
	l.persistLocked()
}

// SetVerification records the verification command and working directory the
// session is measured against.
func (l *Ledger) SetVerification(command, workingDir string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.VerificationCommand == command && l.state.WorkingDirectory == workingDir {
		return
	}
	l.state.VerificationCommand = command
	l.state.WorkingDirectory = workingDir
	l.persistLocked()
}

// OriginalGoal returns the session's recorded goal.
func (l *Ledger) OriginalGoal() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.OriginalGoal
}

// RecordIteration appends one verification attempt to the history and
// returns its assigned number.
func (l *Ledger) RecordIteration(approach, result, lesson string, filesChanged []string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := IterationRecord{
		Number:       len(l.state.Iterations) + 1,
		Approach:     approach,
		Result:       result,
		Lesson:       lesson,
		FilesChanged: append([]string(nil), filesChanged...),
		Timestamp:    time.Now(),
	}
	l.state.Iterations = append(l.state.Iterations, rec)
	l.persistLocked()

	logging.SessionDebug("session %s: iteration %d recorded (lesson: %s)",
		l.state.SessionID, rec.Number, rec.Lesson)
	return rec.Number
}

// RecordFileChange appends a change to the path's history. Changes are
// attributed to the next iteration number, since they happen while an
// attempt is in flight.
func (l *Ledger) RecordFileChange(path, changeType, details string) {
	if path == "" {
		return
	}
	switch changeType {
	case ChangeAdd, ChangeRemove, ChangeModify:
	default:
		changeType = ChangeModify
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.FileChanges[path] = append(l.state.FileChanges[path], FileChange{
		Type:      changeType,
		Details:   details,
		Iteration: len(l.state.Iterations) + 1,
		Timestamp: time.Now(),
	})
	l.persistLocked()
}

// IterationCount returns the number of recorded attempts.
func (l *Ledger) IterationCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.state.Iterations)
}

// ChangedPaths returns every path with recorded changes, sorted.
func (l *Ledger) ChangedPaths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paths := make([]string, 0, len(l.state.FileChanges))
	for p := range l.state.FileChanges {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := l.state
	st.Iterations = append([]IterationRecord(nil), l.state.Iterations...)
	st.FileChanges = make(map[string][]FileChange, len(l.state.FileChanges))
	for p, changes := range l.state.FileChanges {
		st.FileChanges[p] = append([]FileChange(nil), changes...)
	}
	return st
}

// Story renders the iteration history as chronological prose for inclusion
// in a task document. Empty history yields an empty string.
func (l *Ledger) Story() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.state.Iterations) == 0 {
		return ""
	}

	var b strings.Builder
	for _, rec := range l.state.Iterations {
		fmt.Fprintf(&b, "Iteration %d: %s\n", rec.Number, orUnknown(rec.Approach, "attempted fix"))
		if rec.Result != "" {
			fmt.Fprintf(&b, "  Result: %s\n", rec.Result)
		}
		if rec.Lesson != "" {
			fmt.Fprintf(&b, "  Learned: %s\n", rec.Lesson)
		}
		if len(rec.FilesChanged) > 0 {
			fmt.Fprintf(&b, "  Touched: %s\n", strings.Join(rec.FilesChanged, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// DiffSummary renders the file change history grouped by path, in a
// git-status style listing. Empty history yields an empty string.
func (l *Ledger) DiffSummary() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.state.FileChanges) == 0 {
		return ""
	}

	paths := make([]string, 0, len(l.state.FileChanges))
	for p := range l.state.FileChanges {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s:\n", p)
		for _, fc := range l.state.FileChanges[p] {
			line := fmt.Sprintf("  %s (iteration %d)", fc.Type, fc.Iteration)
			if fc.Details != "" {
				line = fmt.Sprintf("  %s: %s (iteration %d)", fc.Type, fc.Details, fc.Iteration)
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// WhatToTryNext derives advice for the next attempt: the last one to three
// lessons, plus a directory hint mined from the verification command.
func (l *Ledger) WhatToTryNext() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var lines []string

	var lessons []string
	for i := len(l.state.Iterations) - 1; i >= 0 && len(lessons) < 3; i-- {
		if lesson := l.state.Iterations[i].Lesson; lesson != "" {
			lessons = append(lessons, lesson)
		}
	}
	for i := len(lessons) - 1; i >= 0; i-- {
		lines = append(lines, "Remember: "+lessons[i])
	}

	if hint := directoryHint(l.state.VerificationCommand); hint != "" {
		lines = append(lines, fmt.Sprintf("The verification touches %s; look there first.", hint))
	}

	if len(lines) == 0 {
		if len(l.state.Iterations) == 0 {
			return "No previous attempts recorded. Start by reproducing the failure."
		}
		return "Review the failure output and try a fundamentally different approach."
	}
	return strings.Join(lines, "\n")
}

// directoryHint extracts a path-like token from a shell command, skipping
// flags. "go test ./internal/loop" hints at ./internal/loop.
func directoryHint(command string) string {
	for _, field := range strings.Fields(command) {
		if strings.HasPrefix(field, "-") {
			continue
		}
		if strings.Contains(field, "/") {
			return field
		}
	}
	return ""
}

// Clear removes the ledger file and resets in-memory state. Called when the
// session ends, on pass or on exhaustion.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logging.Session("failed to remove ledger %s: %v", l.path, err)
	}
	l.state = State{
		SessionID:   l.state.SessionID,
		StartedAt:   time.Now(),
		FileChanges: make(map[string][]FileChange),
	}
}

// persistLocked writes the state to disk. Best-effort: a failed write is
// logged, not returned, because no caller can do anything useful with it
// mid-hook.
func (l *Ledger) persistLocked() {
	l.state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		logging.Session("failed to marshal ledger: %v", err)
		return
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		logging.Session("failed to persist ledger %s: %v", l.path, err)
	}
}

func orUnknown(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
