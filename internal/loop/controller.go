package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ralphloop/internal/config"
	"ralphloop/internal/hook"
	"ralphloop/internal/lesson"
	"ralphloop/internal/logging"
	"ralphloop/internal/session"
	"ralphloop/internal/spawn"
	"ralphloop/internal/store"
	"ralphloop/internal/task"
	"ralphloop/internal/workspace"
)

// LoopState names the controller's position in the loop, for logging and
// status reporting.
type LoopState int

const (
	StateIdle LoopState = iota
	StateRunningVerification
	StateInContextRetry
	StateEscalating
	StatePassed
	StateExhausted
)

func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunningVerification:
		return "RUNNING_VERIFICATION"
	case StateInContextRetry:
		return "IN_CONTEXT_RETRY"
	case StateEscalating:
		return "ESCALATING"
	case StatePassed:
		return "PASSED"
	case StateExhausted:
		return "EXHAUSTED"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

const maxFeedbackLen = 2000

// VerifyFunc runs one verification; SpawnFunc runs one escalation spawn.
// Both are injectable for tests.
type VerifyFunc func(context.Context, VerifyConfig) RunResult
type SpawnFunc func(ctx context.Context, prompt string, sc spawn.Config, rc spawn.RetryConfig, cb *spawn.CircuitBreaker) spawn.Result

// Controller drives one stop-hook invocation through the verification loop.
type Controller struct {
	cfg         config.Config
	statePath   string
	sessionsDir string
	tasks       *task.Store
	breaker     *spawn.CircuitBreaker
	archive     *store.Archive // optional; nil disables archiving

	verify  VerifyFunc
	spawnFn SpawnFunc

	lastState LoopState
}

// Option customizes a Controller.
type Option func(*Controller)

// WithVerifyFunc overrides how verification commands run.
func WithVerifyFunc(fn VerifyFunc) Option {
	return func(c *Controller) { c.verify = fn }
}

// WithSpawnFunc overrides how escalation spawns run.
func WithSpawnFunc(fn SpawnFunc) Option {
	return func(c *Controller) { c.spawnFn = fn }
}

// WithArchive attaches an outcome archive.
func WithArchive(a *store.Archive) Option {
	return func(c *Controller) { c.archive = a }
}

// NewController wires a controller over the given runtime locations.
func NewController(cfg config.Config, statePath, sessionsDir string, tasks *task.Store, breaker *spawn.CircuitBreaker, opts ...Option) *Controller {
	c := &Controller{
		cfg:         cfg,
		statePath:   statePath,
		sessionsDir: sessionsDir,
		tasks:       tasks,
		breaker:     breaker,
		verify:      RunVerification,
		spawnFn:     spawn.SpawnWithRetry,
		lastState:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastState returns the state the previous HandleStop call ended in.
func (c *Controller) LastState() LoopState {
	return c.lastState
}

// HandleStop processes one stop event and decides whether the agent turn may
// terminate. This is the loop's single entry point: each invocation advances
// the loop by exactly one iteration.
func (c *Controller) HandleStop(ctx context.Context, in hook.Input) hook.Output {
	// Re-entrancy guard: our own block already continued this turn once.
	// Blocking again would loop the hook against itself.
	if in.StopHookActive {
		logging.Loop("stop_hook_active set, allowing termination")
		c.lastState = StateIdle
		return hook.Allow("")
	}

	vs, err := LoadVerifyState(c.statePath)
	if err != nil {
		logging.Loop("disarming loop: %v", err)
		ClearVerifyState(c.statePath)
		c.lastState = StateIdle
		return hook.Allow(fmt.Sprintf("Verification loop disarmed: %v", err))
	}
	if vs == nil {
		c.lastState = StateIdle
		return hook.Allow("")
	}

	ensureSessionID(vs, in.SessionID)

	ledger, err := session.Open(c.sessionsDir, vs.State.SessionID)
	if err != nil {
		logging.Loop("ledger unavailable: %v", err)
		ClearVerifyState(c.statePath)
		c.lastState = StateIdle
		return hook.Allow(fmt.Sprintf("Verification loop disarmed: %v", err))
	}
	ledger.SetGoal(vs.Config.OriginalGoal)
	ledger.SetVerification(vs.Config.Command, vs.Config.WorkingDir)

	// Exhaustion is decided at entry, before verifying: every one of the
	// budget's failures has already been surfaced as a block, so the agent
	// got a correction opportunity for each.
	if vs.State.Iteration+1 > vs.Config.MaxIterations {
		return c.finishExhausted(vs, ledger)
	}

	c.lastState = StateRunningVerification
	res := c.verify(ctx, vs.Config)
	c.recordOutcome(vs, res, "in-context", 0)

	if res.Passed {
		return c.finishPassed(vs, ledger, res)
	}

	vs.State.Iteration++
	vs.State.LastResult = lesson.SummarizeError(res.CombinedOutput(), 150)

	if vs.State.Iteration <= c.cfg.Verification.InContextAttempts {
		return c.blockInContext(vs, ledger, res)
	}

	if !c.cfg.Verification.Isolation.Enabled || workspace.IsSpawned() {
		// Escalation unavailable; keep retrying in context until exhaustion.
		return c.blockInContext(vs, ledger, res)
	}

	return c.escalate(ctx, vs, ledger, res)
}

// finishPassed clears all loop state and allows termination.
func (c *Controller) finishPassed(vs *VerifyState, ledger *session.Ledger, res RunResult) hook.Output {
	c.lastState = StatePassed
	logging.Loop("session %s passed after %d iterations", vs.State.SessionID, vs.State.Iteration)

	ClearVerifyState(c.statePath)
	ledger.Clear()

	msg := fmt.Sprintf("Verification passed (%s)", vs.Config.Command)
	if vs.State.Iteration > 0 {
		msg = fmt.Sprintf("Verification passed after %d failed iterations (%s)",
			vs.State.Iteration, vs.Config.Command)
	}
	return hook.Allow(msg)
}

// finishExhausted gives up: loop state and ledger are cleared so the next
// session starts clean, and the exhaustion is surfaced as a system message.
func (c *Controller) finishExhausted(vs *VerifyState, ledger *session.Ledger) hook.Output {
	c.lastState = StateExhausted
	logging.Loop("session %s exhausted after %d iterations", vs.State.SessionID, vs.State.Iteration)

	story := ledger.Story()
	ClearVerifyState(c.statePath)
	ledger.Clear()

	var b strings.Builder
	fmt.Fprintf(&b, "Verification loop exhausted: %d iterations without passing %q.\n",
		vs.State.Iteration, vs.Config.Command)
	fmt.Fprintf(&b, "Last failure: %s\n", vs.State.LastResult)
	if story != "" {
		fmt.Fprintf(&b, "\nAttempt history:\n%s\n", story)
	}
	b.WriteString("\nManual intervention required.")
	return hook.Allow(b.String())
}

// blockInContext feeds the failure back into the current turn.
func (c *Controller) blockInContext(vs *VerifyState, ledger *session.Ledger, res RunResult) hook.Output {
	c.lastState = StateInContextRetry

	out := res.CombinedOutput()
	result := fmt.Sprintf("[%s] %s", lesson.ClassifyFailure(out), lesson.SummarizeError(out, 150))
	ledger.RecordIteration("in-context fix", result, "", ledger.ChangedPaths())

	if err := SaveVerifyState(c.statePath, vs); err != nil {
		logging.Loop("failed to save verify state: %v", err)
	}

	return hook.Block(c.formatFeedback(vs, res, ""))
}

// escalate hands the problem to an isolated spawn, then re-verifies
// independently. The spawned instance's self-report is never trusted.
func (c *Controller) escalate(ctx context.Context, vs *VerifyState, ledger *session.Ledger, res RunResult) hook.Output {
	c.lastState = StateEscalating
	logging.Loop("session %s escalating at iteration %d", vs.State.SessionID, vs.State.Iteration)

	failOutput := res.CombinedOutput()
	failResult := fmt.Sprintf("[%s] %s",
		lesson.ClassifyFailure(failOutput), lesson.SummarizeError(failOutput, 150))
	ledger.RecordIteration("escalated to isolated instance", failResult, "", ledger.ChangedPaths())

	doc := c.buildTaskDoc(vs, ledger, res)
	if _, err := c.tasks.WriteTask(doc); err != nil {
		logging.Loop("failed to write task document: %v", err)
	}

	sc := spawn.Config{
		Binary:           c.cfg.Spawner.Binary,
		MaxBudgetUSD:     c.cfg.Verification.Isolation.MaxBudgetUSD,
		Timeout:          c.cfg.SpawnTimeout(),
		PermissionMode:   c.cfg.Verification.Isolation.PermissionMode,
		OutputFormat:     "json",
		WorkingDirectory: vs.Config.WorkingDir,
	}
	rc := spawn.RetryConfig{
		MaxRetries:      c.cfg.Spawner.MaxRetries,
		BaseDelay:       msToDuration(c.cfg.Spawner.BaseDelayMS),
		MaxDelay:        msToDuration(c.cfg.Spawner.MaxDelayMS),
		ExponentialBase: 2.0,
		Jitter:          true,
	}

	spawnRes := c.spawnFn(ctx, task.RenderTask(doc), sc, rc, c.breaker)

	if spawnRes.CircuitOpen {
		logging.Loop("escalation refused: %s", spawnRes.Error)
		ledger.RecordIteration("escalation skipped: circuit open", spawnRes.Error, "", nil)
		if err := SaveVerifyState(c.statePath, vs); err != nil {
			logging.Loop("failed to save verify state: %v", err)
		}
		return hook.Block(c.formatFeedback(vs, res,
			"Escalation skipped: circuit open ("+spawnRes.Error+"). Fix the failure in this context."))
	}

	if spawnRes.Success {
		extracted := lesson.Extract(spawnRes.Output)
		ledger.RecordIteration(lesson.ExtractApproach(spawnRes.Output),
			"isolated spawn completed", extracted.Insight, nil)
	} else {
		ledger.RecordIteration("isolated spawn failed to complete", spawnRes.Error, "", nil)
	}

	// Independent re-verification: exit code of the command, not the
	// spawned instance's claim, decides.
	reRes := c.verify(ctx, vs.Config)
	c.recordOutcome(vs, reRes, "spawn", spawnCost(spawnRes))

	if reRes.Passed {
		return c.finishPassed(vs, ledger, reRes)
	}

	vs.State.Iteration++
	vs.State.LastResult = lesson.SummarizeError(reRes.CombinedOutput(), 150)

	if err := SaveVerifyState(c.statePath, vs); err != nil {
		logging.Loop("failed to save verify state: %v", err)
	}
	return hook.Block(c.formatFeedback(vs, reRes,
		"An isolated instance attempted a fix; verification still fails."))
}

// buildTaskDoc assembles the handoff document for a spawned instance from
// the session's accumulated knowledge.
func (c *Controller) buildTaskDoc(vs *VerifyState, ledger *session.Ledger, res RunResult) task.Document {
	return task.Document{
		Meta: task.Metadata{
			ID:                  task.GenerateID(),
			OriginalRequest:     ledger.OriginalGoal(),
			VerificationCommand: vs.Config.Command,
			MaxIterations:       vs.Config.MaxIterations,
			CurrentIteration:    vs.State.Iteration,
			TimeoutSeconds:      c.cfg.Verification.Isolation.TimeoutSeconds,
			WorkingDirectory:    vs.Config.WorkingDir,
			MaxBudgetUSD:        c.cfg.Verification.Isolation.MaxBudgetUSD,
		},
		OriginalGoal:  ledger.OriginalGoal(),
		SessionStory:  ledger.Story(),
		ChangeSummary: ledger.DiffSummary(),
		CurrentState:  currentState(vs, ledger),
		LastFailure: lesson.SummarizeError(res.CombinedOutput(), 500),
		TryNext:     ledger.WhatToTryNext(),
	}
}

func currentState(vs *VerifyState, ledger *session.Ledger) string {
	s := fmt.Sprintf("Iteration %d of %d. Verification command: %s",
		vs.State.Iteration, vs.Config.MaxIterations, vs.Config.Command)
	if paths := ledger.ChangedPaths(); len(paths) > 0 {
		s += "\nFiles changed so far: " + strings.Join(paths, ", ")
	}
	return s
}

// formatFeedback builds the block reason fed back to the agent, capped to
// keep the turn's context budget intact.
func (c *Controller) formatFeedback(vs *VerifyState, res RunResult, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Verification failed (iteration %d/%d): %s\n",
		vs.State.Iteration, vs.Config.MaxIterations, vs.Config.Command)

	if res.TimedOut {
		b.WriteString("The command timed out.\n")
	} else {
		fmt.Fprintf(&b, "Exit code %d.\n", res.ExitCode)
	}
	if note != "" {
		b.WriteString(note + "\n")
	}
	if out := res.CombinedOutput(); out != "" {
		fmt.Fprintf(&b, "\nOutput:\n%s\n", out)
	}
	b.WriteString("\nFix the failure, then finish your turn; verification will run again.")

	feedback := b.String()
	if len(feedback) > maxFeedbackLen {
		feedback = feedback[:maxFeedbackLen-len("\n[feedback truncated]")] + "\n[feedback truncated]"
	}
	return feedback
}

func (c *Controller) recordOutcome(vs *VerifyState, res RunResult, method string, costUSD float64) {
	if c.archive == nil {
		return
	}
	c.archive.RecordOutcome(store.Outcome{
		SessionID:  vs.State.SessionID,
		Iteration:  vs.State.Iteration,
		Passed:     res.Passed,
		ExitCode:   res.ExitCode,
		Method:     method,
		TimedOut:   res.TimedOut,
		CostUSD:    costUSD,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// ensureSessionID fixes a stable session id on the state. An id a previous
// iteration persisted wins, so the ledger keyed by it is never orphaned
// mid-session; otherwise the host's id, then a fresh one.
func ensureSessionID(vs *VerifyState, hostID string) {
	if vs.State.SessionID != "" {
		return
	}
	if hostID != "" {
		vs.State.SessionID = hostID
		return
	}
	vs.State.SessionID = "ralph-" + uuid.NewString()[:8]
}

func spawnCost(res spawn.Result) float64 {
	if res.Stats == nil {
		return 0
	}
	return res.Stats.CostUSD
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
