package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/marcus/taskmaster/internal/agent"
	"github.com/marcus/taskmaster/internal/engine"
	"github.com/marcus/taskmaster/internal/events"
	"github.com/marcus/taskmaster/internal/store"
	"github.com/marcus/taskmaster/internal/tasks"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage and run tasks",
	Long:  `Create, list and execute tasks in the workspace registry.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create --name <name>",
	Short: "Create a pending task",
	Long: `Create a new pending task and save the registry.

Priority is high, medium or low (default medium). Estimates accept forms
like 2h, 30m, 1h30m or a bare number of hours.`,
	Args: cobra.NoArgs,
	RunE: runTaskCreate,
}

var taskExecuteCmd = &cobra.Command{
	Use:   "execute <task-id>",
	Short: "Run a task through the engine",
	Long: `Execute a task, reporting progress at each checkpoint.

Dependencies must be completed first unless execution.enforce_dependencies
is off. Interrupting the run marks the task failed.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskExecute,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Long:  `List tasks in registry order. Use --status to filter.`,
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskBlockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List tasks waiting on unfinished dependencies",
	Args:  cobra.NoArgs,
	RunE:  runTaskBlocked,
}

var taskNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Recommend the next tasks to start",
	Args:  cobra.NoArgs,
	RunE:  runTaskNext,
}

var taskHistoryCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show recent runs",
	Long: `Show recent runs of a task, or of every task when no id is given.

Run history is kept by the sqlite persistence driver only.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTaskHistory,
}

func init() {
	taskCreateCmd.Flags().String("name", "", "Task name")
	taskCreateCmd.Flags().String("description", "", "Task description")
	taskCreateCmd.Flags().String("priority", "", "Priority (high, medium, low)")
	taskCreateCmd.Flags().String("estimate", "", "Estimated time (e.g. 2h, 30m)")
	taskCreateCmd.Flags().StringSlice("depends-on", nil, "Dependency task ids")
	taskCreateCmd.Flags().Bool("manual", false, "Mark the task as not automatable")
	_ = taskCreateCmd.MarkFlagRequired("name")

	taskListCmd.Flags().String("status", "", "Filter by status (pending, running, completed, failed)")
	taskNextCmd.Flags().IntP("count", "n", 0, "Number of recommendations (default: analysis.recommended_actions)")
	taskHistoryCmd.Flags().IntP("last", "n", 10, "Show last N runs")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskExecuteCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskBlockedCmd)
	taskCmd.AddCommand(taskNextCmd)
	taskCmd.AddCommand(taskHistoryCmd)
	rootCmd.AddCommand(taskCmd)
}

// persist saves explicitly when auto-save is off; the engine saves on its own
// otherwise.
func persist(ctx context.Context, ag *agent.Agent) error {
	if ag.Config().AutoSave {
		return nil
	}
	if err := ag.Engine().Save(ctx); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}

// warnings collects persistence warnings so a one-shot command can fail when
// its change was not saved.
func warnings(ag *agent.Agent) *[]events.Warning {
	var out []events.Warning
	ag.Bus().On(events.KindWarning, func(ev events.Event) {
		if w, ok := ev.Payload.(events.Warning); ok {
			out = append(out, w)
		}
	})
	return &out
}

func saveFailure(ws []events.Warning) error {
	for _, w := range ws {
		if w.Type == events.WarnPersistence {
			return fmt.Errorf("%s: %s", w.Message, w.Error)
		}
	}
	return nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	description, _ := cmd.Flags().GetString("description")
	priority, _ := cmd.Flags().GetString("priority")
	estimate, _ := cmd.Flags().GetString("estimate")
	deps, _ := cmd.Flags().GetStringSlice("depends-on")
	manual, _ := cmd.Flags().GetBool("manual")

	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()
	warned := warnings(ag)

	automatable := !manual
	task, err := ag.Engine().CreateTask(cmd.Context(), tasks.TaskSpec{
		Name:          name,
		Description:   description,
		Priority:      tasks.Priority(strings.ToLower(priority)),
		EstimatedTime: estimate,
		Dependencies:  deps,
		Automatable:   &automatable,
	})
	if err != nil {
		return err
	}
	if err := persist(cmd.Context(), ag); err != nil {
		return err
	}
	if err := saveFailure(*warned); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, task)
	}
	_, _ = fmt.Fprintf(out, "Created %s: %s (%s, %s)\n", task.ID, task.Name, task.Priority, task.EstimatedTime)
	return nil
}

func runTaskExecute(cmd *cobra.Command, args []string) error {
	id := args[0]
	asJSON := wantJSON(cmd)
	out := cmd.OutOrStdout()

	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	if !asJSON {
		ag.Bus().On(events.KindTaskProgress, func(ev events.Event) {
			p := ev.Payload.(events.TaskProgress)
			_, _ = fmt.Fprintf(out, "  %3d%%  %s\n", p.Progress, p.Task.Name)
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := ag.Engine().ExecuteTask(ctx, id)
	if err := persist(context.WithoutCancel(ctx), ag); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	if asJSON {
		return printJSON(out, result)
	}
	printExecutionResult(out, result)
	return nil
}

func printExecutionResult(w io.Writer, r *engine.ExecutionResult) {
	_, _ = fmt.Fprintf(w, "COMPLETED %s in %s\n", r.Task.ID, formatDuration(r.ExecutionTime))
	if len(r.Suggestions) > 0 {
		_, _ = fmt.Fprintln(w, "\nSuggestions:")
		for _, s := range r.Suggestions {
			_, _ = fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}

func runTaskList(cmd *cobra.Command, args []string) error {
	statusFilter, _ := cmd.Flags().GetString("status")
	var status tasks.Status
	if statusFilter != "" {
		status = tasks.Status(strings.ToLower(statusFilter))
		if !status.Valid() {
			return fmt.Errorf("unknown status: %s (valid: pending, running, completed, failed)", statusFilter)
		}
	}

	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	list := filterByStatus(ag.Engine().Registry().Tasks(), status)
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, list)
	}
	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "No tasks found.")
		return nil
	}
	printTaskTable(out, list)
	return nil
}

func filterByStatus(list []tasks.Task, status tasks.Status) []tasks.Task {
	if status == "" {
		return list
	}
	var out []tasks.Task
	for _, t := range list {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

func printTaskTable(w io.Writer, list []tasks.Task) {
	tw := newTable(w, table.Row{"ID", "Name", "Priority", "Status", "Progress", "Estimate", "Updated"})
	for _, t := range list {
		tw.AppendRow(table.Row{
			t.ID, t.Name, t.Priority, t.Status,
			fmt.Sprintf("%d%%", t.Progress), t.EstimatedTime, formatAgo(t.UpdatedAt),
		})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d task(s)", len(list))})
	tw.Render()
}

func runTaskBlocked(cmd *cobra.Command, args []string) error {
	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	all := ag.Engine().Registry().Tasks()
	blocked := tasks.FindBlocked(all)
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, blocked)
	}
	if len(blocked) == 0 {
		_, _ = fmt.Fprintln(out, "No blocked tasks.")
		return nil
	}

	tw := newTable(out, table.Row{"ID", "Name", "Waiting On"})
	for _, t := range blocked {
		tw.AppendRow(table.Row{t.ID, t.Name, strings.Join(waitingOn(t, all), ", ")})
	}
	tw.Render()
	return nil
}

// waitingOn lists t's dependencies that are not completed. Unknown ids are
// marked as missing.
func waitingOn(t tasks.Task, all []tasks.Task) []string {
	status := tasks.StatusIndex(all)
	var out []string
	for _, dep := range tasks.UnfinishedDeps(t, status) {
		if s, ok := status[dep]; ok {
			out = append(out, fmt.Sprintf("%s (%s)", dep, s))
		} else {
			out = append(out, dep+" (missing)")
		}
	}
	return out
}

func runTaskNext(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("count")

	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	if n <= 0 {
		n = ag.Engine().Config().RecommendedActions
	}
	recs := tasks.RecommendNext(ag.Engine().Registry().Tasks(), n)
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, recs)
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No pending tasks.")
		return nil
	}
	for i, r := range recs {
		_, _ = fmt.Fprintf(out, "%d. %s %s [%s] %s\n", i+1, r.TaskID, r.Name, r.Priority, r.Reason)
	}
	return nil
}

func runTaskHistory(cmd *cobra.Command, args []string) error {
	last, _ := cmd.Flags().GetInt("last")
	var id string
	if len(args) == 1 {
		id = args[0]
	}

	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	runs, err := ag.Engine().History(cmd.Context(), id, last)
	if errors.Is(err, engine.ErrNoHistory) {
		return fmt.Errorf("%w; set persistence.driver to sqlite", err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, runs)
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No run history found.")
		return nil
	}
	printRunTable(out, runs)
	return nil
}

func printRunTable(w io.Writer, runs []store.RunRecord) {
	tw := newTable(w, table.Row{"Task", "Started", "Duration", "Status", "Error"})
	for _, r := range runs {
		tw.AppendRow(table.Row{
			r.TaskID, formatAgo(r.StartedAt), formatDuration(r.FinishedAt.Sub(r.StartedAt)),
			strings.ToUpper(string(r.Status)), r.Error,
		})
	}
	tw.Render()
}
