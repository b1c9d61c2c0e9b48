package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/marcus/taskmaster/internal/agent"
	"github.com/marcus/taskmaster/internal/events"
	"github.com/marcus/taskmaster/internal/logging"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the agent in the foreground",
	Long: `Start the taskmaster agent: load tasks, watch workspace files, poll git
status, run periodic analysis and register workflow schedules.

Schedules in the config with fire: true run their workflow on every tick.
The agent saves tasks and exits on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().Bool("events", false, "Print every event to stdout (JSON lines with --json)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	printEvents, _ := cmd.Flags().GetBool("events")

	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	log := logging.Component("start")

	ag, err := agent.New(cfg)
	if err != nil {
		return err
	}
	if printEvents {
		ag.Bus().OnAll(eventPrinter(cmd.OutOrStdout(), wantJSON(cmd)))
	}

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				log.Debug("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Agent.
	{
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		g.Add(
			func() error {
				if err := ag.Run(ctx); err != nil {
					return fmt.Errorf("agent: %w", err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// eventPrinter renders events as JSON lines or as short text lines.
func eventPrinter(w io.Writer, asJSON bool) events.Handler {
	enc := json.NewEncoder(w)
	return func(ev events.Event) {
		if asJSON {
			_ = enc.Encode(ev)
			return
		}
		_, _ = fmt.Fprintf(w, "%s %-17s %s\n", ev.Time.Format("15:04:05"), ev.Kind, describeEvent(ev))
	}
}

func describeEvent(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case events.TaskCreated:
		return fmt.Sprintf("%s %s", p.Task.ID, p.Task.Name)
	case events.TaskStarted:
		return fmt.Sprintf("%s %s", p.Task.ID, p.Task.Name)
	case events.TaskProgress:
		return fmt.Sprintf("%s %d%%", p.Task.ID, p.Progress)
	case events.TaskCompleted:
		return p.Task.ID
	case events.TaskFailed:
		return fmt.Sprintf("%s: %s", p.Task.ID, p.Error)
	case events.Suggestion:
		return fmt.Sprintf("[%s] %s", p.Type, p.Message)
	case events.Warning:
		if p.Error != "" {
			return fmt.Sprintf("[%s] %s: %s", p.Type, p.Message, p.Error)
		}
		return fmt.Sprintf("[%s] %s", p.Type, p.Message)
	case events.FilesChanged:
		return summarizePaths(p.Paths)
	case events.GitActivity:
		return summarizePaths(p.Files)
	case events.WorkflowScheduled:
		return fmt.Sprintf("%s %q next %s", p.Workflow, p.Expr, p.Next.Format("2006-01-02 15:04"))
	case events.ConfigLoaded:
		if len(p.Sources) == 0 {
			return "defaults"
		}
		return strings.Join(p.Sources, ", ")
	case events.TasksLoaded:
		return fmt.Sprintf("%d task(s), %d workflow(s)", p.TaskCount, p.WorkflowCount)
	default:
		return ""
	}
}

func summarizePaths(paths []string) string {
	const shown = 3
	if len(paths) <= shown {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(paths[:shown], ", "), len(paths)-shown)
}
