package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskmaster/internal/scheduler"
	"github.com/marcus/taskmaster/internal/tasks"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <cron> <workflow>",
	Short: "Validate a workflow schedule",
	Long: `Validate a five-field cron expression for a workflow and show when it
would next fire.

With --save the expression is stored on the workflow so that a running
'taskmaster start' registers it. The workflow must exist in that case.`,
	Example: `  taskmaster schedule "0 9 * * *" daily-maintenance
  taskmaster schedule "*/30 9-17 * * 1-5" release-preparation --save`,
	Args: cobra.ExactArgs(2),
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().Bool("save", false, "Store the schedule on the workflow")
	scheduleCmd.Flags().IntP("count", "n", 3, "Number of upcoming fire times to show")
	rootCmd.AddCommand(scheduleCmd)
}

type scheduleResult struct {
	Workflow string      `json:"workflow"`
	Expr     string      `json:"expr"`
	Next     []time.Time `json:"next"`
	Saved    bool        `json:"saved"`
}

func runSchedule(cmd *cobra.Command, args []string) error {
	expr, name := args[0], args[1]
	save, _ := cmd.Flags().GetBool("save")
	count, _ := cmd.Flags().GetInt("count")
	if count < 1 {
		count = 1
	}

	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	next, err := ag.Monitor().ScheduleWorkflow(expr, name)
	if err != nil {
		return err
	}
	res := scheduleResult{Workflow: name, Expr: expr, Next: upcoming(expr, next, count)}

	if save {
		wf, err := ag.Engine().Registry().Workflow(name)
		if err != nil {
			return err
		}
		wf.Schedule = expr
		wf.Trigger = tasks.TriggerSchedule
		if err := ag.Engine().LoadTasks(cmd.Context(), tasks.Snapshot{Workflows: []tasks.Workflow{wf}}); err != nil {
			return err
		}
		if err := ag.Engine().Save(cmd.Context()); err != nil {
			return fmt.Errorf("save tasks: %w", err)
		}
		res.Saved = true
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, res)
	}
	_, _ = fmt.Fprintf(out, "Workflow %s: %q\n", name, expr)
	for i, t := range res.Next {
		label := "then"
		if i == 0 {
			label = "next"
		}
		_, _ = fmt.Fprintf(out, "  %s  %s (%s)\n", label, t.Format("2006-01-02 15:04 MST"), formatAgo(t))
	}
	if res.Saved {
		_, _ = fmt.Fprintln(out, "Saved.")
	}
	return nil
}

// upcoming returns n fire times starting at first.
func upcoming(expr string, first time.Time, n int) []time.Time {
	out := []time.Time{first}
	sched, err := scheduler.ParseCron(expr)
	if err != nil {
		return out
	}
	for t := first; len(out) < n; {
		t = sched.Next(t)
		out = append(out, t)
	}
	return out
}
