package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ralphloop/internal/task"
	"ralphloop/internal/workspace"
)

var tasksMaxAge time.Duration

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and manage task documents",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with no result yet",
	RunE:  listTasks,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show a task document and its result, if any",
	Args:  cobra.ExactArgs(1),
	RunE:  showTask,
}

var tasksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove task and result documents older than --max-age",
	RunE:  cleanupTasks,
}

func init() {
	tasksCleanupCmd.Flags().DurationVar(&tasksMaxAge, "max-age", 7*24*time.Hour, "Age beyond which documents are removed")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksCleanupCmd)
}

func listTasks(cmd *cobra.Command, args []string) error {
	st, err := task.NewStore(workspace.TasksDir())
	if err != nil {
		return err
	}

	ids, err := st.PendingTasks()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending tasks.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(cmd.OutOrStdout(), id)
	}
	return nil
}

func showTask(cmd *cobra.Command, args []string) error {
	st, err := task.NewStore(workspace.TasksDir())
	if err != nil {
		return err
	}

	doc, err := st.ReadTask(args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), task.RenderTask(doc))

	if res, err := st.ReadResult(args[0]); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\n=== result (%s) ===\n\n", res.Meta.Status)
		fmt.Fprint(cmd.OutOrStdout(), task.RenderResult(res))
	}
	return nil
}

func cleanupTasks(cmd *cobra.Command, args []string) error {
	st, err := task.NewStore(workspace.TasksDir())
	if err != nil {
		return err
	}

	removed, err := st.CleanupOld(tasksMaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d documents older than %s.\n", removed, tasksMaxAge)
	return nil
}
