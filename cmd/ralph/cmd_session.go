package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ralphloop/internal/session"
	"ralphloop/internal/store"
	"ralphloop/internal/workspace"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage session ledgers",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with active ledgers",
	RunE:  listSessions,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show a session's accumulated knowledge",
	Args:  cobra.ExactArgs(1),
	RunE:  showSession,
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear [session-id]",
	Short: "Clear a session's ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  clearSession,
}

var sessionHistoryCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show a session's archived verification outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  showHistory,
}

var sessionTotalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Show archive-wide verification totals",
	RunE:  showTotals,
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	sessionCmd.AddCommand(sessionHistoryCmd)
	sessionCmd.AddCommand(sessionTotalsCmd)
}

func listSessions(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(workspace.SessionsDir())
	if os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSuffix(e.Name(), ".json"))
		count++
	}
	if count == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
	}
	return nil
}

func showSession(cmd *cobra.Command, args []string) error {
	ledger, err := session.Open(workspace.SessionsDir(), args[0])
	if err != nil {
		return err
	}

	st := ledger.Snapshot()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Session:  %s\n", st.SessionID)
	fmt.Fprintf(out, "Goal:     %s\n", orNone(st.OriginalGoal))
	fmt.Fprintf(out, "Started:  %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Attempts: %d\n", len(st.Iterations))

	if story := ledger.Story(); story != "" {
		fmt.Fprintf(out, "\n%s\n", story)
	}
	if diff := ledger.DiffSummary(); diff != "" {
		fmt.Fprintf(out, "\nFile changes:\n%s\n", diff)
	}
	fmt.Fprintf(out, "\nNext: %s\n", ledger.WhatToTryNext())
	return nil
}

func clearSession(cmd *cobra.Command, args []string) error {
	path := filepath.Join(workspace.SessionsDir(), args[0]+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "No ledger for session %s.\n", args[0])
			return nil
		}
		return fmt.Errorf("failed to clear session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s.\n", args[0])
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	archive, err := store.Open(workspace.ArchivePath())
	if err != nil {
		return err
	}
	defer archive.Close()

	outcomes, err := archive.SessionHistory(args[0])
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No archived outcomes for session %s.\n", args[0])
		return nil
	}

	for _, o := range outcomes {
		status := "FAIL"
		if o.Passed {
			status = "PASS"
		} else if o.TimedOut {
			status = "TIMEOUT"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  iter=%d  %s  method=%s  exit=%d  cost=$%.4f\n",
			o.CreatedAt.Format("2006-01-02 15:04:05"), o.Iteration, status, o.Method, o.ExitCode, o.CostUSD)
	}
	return nil
}

func showTotals(cmd *cobra.Command, args []string) error {
	archive, err := store.Open(workspace.ArchivePath())
	if err != nil {
		return err
	}
	defer archive.Close()

	t, err := archive.AggregateTotals()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sessions:  %d\n", t.Sessions)
	fmt.Fprintf(out, "Attempts:  %d (passed %d)\n", t.Attempts, t.Passed)
	fmt.Fprintf(out, "Spawns:    %d\n", t.Spawns)
	fmt.Fprintf(out, "Cost:      $%.4f\n", t.TotalCost)
	fmt.Fprintf(out, "Time:      %s\n", t.TotalTime.Round(time.Second))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
