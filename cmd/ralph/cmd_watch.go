package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ralphloop/internal/watch"
	"ralphloop/internal/workspace"
)

// watchCmd streams loop activity for live debugging of a session.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the runtime state directory for loop activity",
	Long: `Observes the runtime-state directory and prints a line for each loop
event as it happens: loop arming and disarming, ledger updates, task
handoffs and results. Stops on Ctrl-C.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := workspace.RuntimeStateDir()

	w, err := watch.New(dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("watching runtime state", zap.String("dir", dir))
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl-C to stop)\n", dir)

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for ev := range w.Events() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %-12s %s\n",
			time.Now().Format("15:04:05"), ev.Op, ev.Kind, ev.Path)
	}

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
