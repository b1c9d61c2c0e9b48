// Package commands implements the taskmaster CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "taskmaster",
	Short: "Task orchestration agent for a development workspace",
	Long: `Taskmaster keeps a registry of project tasks and workflows, runs them
through a checkpointed execution engine, and watches the workspace for
changes, uncommitted work and code-quality problems.

Tasks live in tasks/current-tasks.json by default; configure the workspace
in taskmaster.yaml.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("workspace", "C", "", "Workspace directory (default: current directory)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
}
