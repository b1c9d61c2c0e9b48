package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/marcus/taskmaster/internal/engine"
	"github.com/marcus/taskmaster/internal/tasks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project status",
	Long: `Display task counts, estimated remaining work, project health, risk,
blocked tasks and recommended next actions.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ag, err := openAgent(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = ag.Close() }()

	st := ag.Engine().Status(cmd.Context())
	out := cmd.OutOrStdout()
	if wantJSON(cmd) {
		return printJSON(out, st)
	}
	printStatus(out, st)
	return nil
}

func printStatus(w io.Writer, st engine.Status) {
	_, _ = fmt.Fprintf(w, "Tasks:     %d total, %d workflow(s)\n", st.TotalTasks, st.Workflows)
	_, _ = fmt.Fprintf(w, "Remaining: %s estimated\n", st.EstimatedTimeRemaining)
	_, _ = fmt.Fprintf(w, "Health:    %s\n", strings.ToUpper(string(st.ProjectHealth)))
	_, _ = fmt.Fprintf(w, "Risk:      %s (%s)\n", st.Risk.Level, st.Risk.Reason)
	_, _ = fmt.Fprintln(w)

	tw := newTable(w, table.Row{"Status", "Tasks", "", "Priority", "Tasks"})
	for i := 0; i < len(tasks.Statuses) || i < len(tasks.Priorities); i++ {
		row := table.Row{"", "", "", "", ""}
		if i < len(tasks.Statuses) {
			s := tasks.Statuses[i]
			row[0], row[1] = s, len(st.TasksByStatus[s])
		}
		if i < len(tasks.Priorities) {
			p := tasks.Priorities[i]
			row[3], row[4] = p, st.Priorities[p]
		}
		tw.AppendRow(row)
	}
	tw.Render()

	if len(st.Blocked) > 0 {
		_, _ = fmt.Fprintf(w, "\nBlocked (%d):\n", len(st.Blocked))
		for _, t := range st.Blocked {
			_, _ = fmt.Fprintf(w, "  - %s %s (depends on %s)\n", t.ID, t.Name, strings.Join(t.Dependencies, ", "))
		}
	}
	if len(st.NextActions) > 0 {
		_, _ = fmt.Fprintln(w, "\nNext actions:")
		for i, r := range st.NextActions {
			_, _ = fmt.Fprintf(w, "  %d. %s %s [%s]\n", i+1, r.TaskID, r.Name, r.Priority)
		}
	}
	if len(st.AISuggestions) > 0 {
		_, _ = fmt.Fprintln(w, "\nSuggestions:")
		for _, s := range st.AISuggestions {
			_, _ = fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}
