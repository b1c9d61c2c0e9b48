package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskmaster/internal/config"
	"github.com/marcus/taskmaster/internal/setup"
	"github.com/marcus/taskmaster/internal/store"
	"github.com/marcus/taskmaster/internal/tasks"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create configuration and starter tasks",
	Long: `Initialize a workspace with taskmaster.yaml and a starter task set.

The starter set is a setup, review, test and documentation chain with a
daily maintenance schedule and a manual release workflow. Release and ADR
markers in the workspace add matching tasks; go.mod and package.json add
quality checks to the generated config.

Existing files are kept unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("preset", string(setup.PresetStandard), "Starter set (minimal, standard, full)")
	initCmd.Flags().String("driver", config.DefaultDriver, "Persistence driver (json, yaml, sqlite)")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite existing config and tasks")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	presetName, _ := cmd.Flags().GetString("preset")
	driver, _ := cmd.Flags().GetString("driver")
	force, _ := cmd.Flags().GetBool("force")

	preset, err := setup.ParsePreset(presetName)
	if err != nil {
		return err
	}
	switch driver {
	case store.DriverJSON, store.DriverYAML, store.DriverSQLite:
	default:
		return fmt.Errorf("unknown driver: %s (valid: json, yaml, sqlite)", driver)
	}

	dir, err := workspaceDir(cmd)
	if err != nil {
		return err
	}
	signals := setup.DetectRepoSignals(dir)
	out := cmd.OutOrStdout()

	configPath := filepath.Join(dir, config.ProjectConfigName)
	if _, err := os.Stat(configPath); err == nil && !force {
		_, _ = fmt.Fprintf(out, "Keeping existing config: %s\n", configPath)
	} else {
		content, err := setup.StarterConfig(signals, driver)
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		if err := os.WriteFile(configPath, content, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Created config: %s\n", configPath)
	}

	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	st, closeStore, err := store.Open(store.Options{
		Driver:    cfg.Persistence.Driver,
		Path:      cfg.Persistence.Path,
		Workspace: cfg.Workspace,
	})
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	existing, err := st.Load(cmd.Context())
	switch {
	case err == nil && !force:
		_, _ = fmt.Fprintf(out, "Keeping %d existing task(s); use --force to replace them\n", len(existing.ProjectTasks))
		return nil
	case err != nil && !errors.Is(err, tasks.ErrNotFound) && !force:
		return fmt.Errorf("existing tasks could not be read (use --force to replace them): %w", err)
	}

	snap := setup.StarterSnapshot(preset, signals, time.Now())
	if err := st.Save(cmd.Context(), snap); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Created %d task(s) and %d workflow(s) (%s preset)\n",
		len(snap.ProjectTasks), len(snap.Workflows), preset)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Run 'taskmaster status' to review the project")
	_, _ = fmt.Fprintln(out, "  2. Run 'taskmaster task next' to pick what to start")
	_, _ = fmt.Fprintln(out, "  3. Run 'taskmaster start' to monitor the workspace")
	return nil
}
