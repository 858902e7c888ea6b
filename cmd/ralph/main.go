package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ralphloop/internal/logging"
	"ralphloop/internal/workspace"
)

var (
	// Global flags
	verbose      bool
	workspaceDir string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ralph",
	Short: "ralph - supervised verification loop for agent sessions",
	Long: `ralph runs a supervised verification-and-escalation loop around an AI
coding agent's stop hook.

When a verification command is armed, every attempt by the agent to end its
turn first runs that command. Failures are fed back into the turn; repeated
failures escalate to an isolated spawned instance carrying the session's
accumulated knowledge; the loop gives up after a bounded number of
iterations.

The hook subcommands are wired into the host's hook configuration; the rest
are operator tools for inspecting and driving the loop.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspaceDir != "" {
			os.Setenv(workspace.EnvWorkspace, workspaceDir)
		}

		// Hook subcommands speak JSON on stdout; they use the file logger
		// only.
		if err := logging.Initialize(workspace.Root()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		if cmd.Name() == "stop" || cmd.Name() == "post-tool" {
			return nil
		}

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "Workspace directory (default: plugin root or current)")

	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	err := rootCmd.Execute()
	// A RunE error skips PersistentPostRun; flush here as well.
	if logger != nil {
		_ = logger.Sync()
	}
	logging.Close()
	if err != nil {
		os.Exit(1)
	}
}
