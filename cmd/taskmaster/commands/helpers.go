package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/marcus/taskmaster/internal/agent"
	"github.com/marcus/taskmaster/internal/config"
	"github.com/marcus/taskmaster/internal/logging"
)

// workspaceDir resolves --workspace, defaulting to the working directory.
func workspaceDir(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("workspace")
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		return wd, nil
	}
	return filepath.Abs(dir)
}

// loadConfig reads the global and workspace configuration and initializes
// logging. One-shot commands log warnings and above unless --verbose is set.
func loadConfig(cmd *cobra.Command, longRunning bool) (*config.Config, error) {
	dir, err := workspaceDir(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromPaths(dir, config.DefaultGlobalPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	}
	switch {
	case verbose:
		logCfg.Level = "debug"
	case !longRunning && logCfg.Path == "":
		logCfg.Level = "warn"
	}
	if err := logging.Init(logCfg); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

// openAgent builds an agent without workspace monitoring and loads the
// saved tasks. Callers must Shutdown (to save) or Close it.
func openAgent(cmd *cobra.Command) (*agent.Agent, error) {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return nil, err
	}
	ag, err := agent.New(cfg, agent.WithMonitoring(false))
	if err != nil {
		return nil, err
	}
	if err := ag.Open(cmd.Context()); err != nil {
		_ = ag.Close()
		return nil, err
	}
	return ag, nil
}

func wantJSON(cmd *cobra.Command) bool {
	asJSON, _ := cmd.Flags().GetBool("json")
	return asJSON
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

// formatAgo renders t relative to now, or "-" for the zero time.
func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d >= time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
