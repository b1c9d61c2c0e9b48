package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/marcus/taskmaster/internal/events"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "List and run workflows",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	Args:  cobra.NoArgs,
	RunE:  runWorkflowList,
}

var workflowRunCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run every task of a workflow in order",
	Long: `Execute the workflow's tasks in order, stopping at the first failure.
Completed tasks are run again.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflowRun,
}

func init() {
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowRunCmd)
	rootCmd.AddCommand(workflowCmd)
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	wfs := ag.Engine().Registry().Workflows()
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, wfs)
	}
	if len(wfs) == 0 {
		_, _ = fmt.Fprintln(out, "No workflows defined.")
		return nil
	}
	tw := newTable(out, table.Row{"Name", "Trigger", "Schedule", "Tasks", "Description"})
	for _, wf := range wfs {
		schedule := wf.Schedule
		if schedule == "" {
			schedule = "-"
		}
		tw.AppendRow(table.Row{wf.Name, wf.TriggerKind(), schedule, strings.Join(wf.Tasks, ", "), wf.Description})
	}
	tw.Render()
	return nil
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	name := args[0]
	asJSON := wantJSON(cmd)
	out := cmd.OutOrStdout()

	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	if !asJSON {
		ag.Bus().On(events.KindTaskStarted, func(ev events.Event) {
			t := ev.Payload.(events.TaskStarted).Task
			_, _ = fmt.Fprintf(out, "> %s %s\n", t.ID, t.Name)
		})
		ag.Bus().On(events.KindTaskFailed, func(ev events.Event) {
			p := ev.Payload.(events.TaskFailed)
			_, _ = fmt.Fprintf(out, "  FAILED at %d%%: %s\n", p.Task.Progress, p.Error)
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, runErr := ag.Engine().RunWorkflow(ctx, name)
	if err := persist(context.WithoutCancel(ctx), ag); err != nil {
		return errors.Join(runErr, err)
	}

	if asJSON {
		if err := printJSON(out, results); err != nil {
			return err
		}
		return runErr
	}
	for _, r := range results {
		printExecutionResult(out, r)
	}
	if runErr != nil {
		return runErr
	}
	_, _ = fmt.Fprintf(out, "Workflow %s completed: %d task(s)\n", name, len(results))
	return nil
}
