package main

import (
	"os"

	"github.com/spf13/cobra"

	"ralphloop/internal/config"
	"ralphloop/internal/hook"
	"ralphloop/internal/logging"
	"ralphloop/internal/loop"
	"ralphloop/internal/session"
	"ralphloop/internal/spawn"
	"ralphloop/internal/store"
	"ralphloop/internal/task"
	"ralphloop/internal/workspace"
)

// hookCmd groups the entry points the host's hook configuration invokes.
// Hook commands read one JSON event on stdin, write one JSON decision on
// stdout, and always exit zero: a crashing hook would wedge the host.
var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Hook entry points invoked by the host agent runtime",
}

var hookStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop hook: run the verification loop for one iteration",
	RunE:  runStopHook,
}

var hookPostToolCmd = &cobra.Command{
	Use:   "post-tool",
	Short: "Post-tool hook: record file changes into the session ledger",
	RunE:  runPostToolHook,
}

func init() {
	hookCmd.AddCommand(hookStopCmd)
	hookCmd.AddCommand(hookPostToolCmd)
}

func runStopHook(cmd *cobra.Command, args []string) error {
	in := hook.ParseInput(cmd.InOrStdin())
	logging.Hooks("stop hook invoked (session=%s, active=%v)", in.SessionID, in.StopHookActive)

	cfg := config.Load(workspace.ConfigPath())

	tasks, err := task.NewStore(workspace.TasksDir())
	if err != nil {
		logging.Hooks("tasks store unavailable: %v", err)
		return hook.Allow("").Write(cmd.OutOrStdout())
	}

	breaker := spawn.NewCircuitBreaker(spawn.BreakerConfig{
		FailureThreshold: cfg.Spawner.FailThreshold,
		RecoveryTimeout:  secondsToDuration(cfg.Spawner.RecoveryS),
		HalfOpenMaxCalls: cfg.Spawner.HalfOpenCalls,
	})

	opts := []loop.Option{}
	if archive, err := store.Open(workspace.ArchivePath()); err == nil {
		defer archive.Close()
		opts = append(opts, loop.WithArchive(archive))
	} else {
		logging.Hooks("archive unavailable: %v", err)
	}

	ctrl := loop.NewController(cfg, workspace.VerifyStatePath(), workspace.SessionsDir(), tasks, breaker, opts...)
	out := ctrl.HandleStop(cmd.Context(), in)

	logging.Hooks("stop hook decision: blocked=%v state=%s", out.Blocked(), ctrl.LastState())
	return out.Write(cmd.OutOrStdout())
}

func runPostToolHook(cmd *cobra.Command, args []string) error {
	in := hook.ParseInput(cmd.InOrStdin())

	// Only track when a loop is armed; otherwise there is no session to
	// attribute changes to.
	vs, err := loop.LoadVerifyState(workspace.VerifyStatePath())
	if err != nil || vs == nil {
		return hook.Allow("").Write(cmd.OutOrStdout())
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = vs.State.SessionID
	}
	if sessionID == "" {
		sessionID = os.Getenv(workspace.EnvSessionID)
	}
	if sessionID == "" {
		return hook.Allow("").Write(cmd.OutOrStdout())
	}

	if path, changeType, details, ok := session.ChangeFromTool(in.ToolName, in.ToolInput); ok {
		ledger, err := session.Open(workspace.SessionsDir(), sessionID)
		if err == nil {
			ledger.RecordFileChange(path, changeType, details)
			logging.Hooks("tracked %s %s (%s)", changeType, path, details)
		}
	}

	return hook.Allow("").Write(cmd.OutOrStdout())
}
