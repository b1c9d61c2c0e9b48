// Package setup builds the starter task set and project configuration written
// by `taskmaster init`.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus/taskmaster/internal/config"
	"github.com/marcus/taskmaster/internal/tasks"
)

type Preset string

const (
	PresetMinimal  Preset = "minimal"
	PresetStandard Preset = "standard"
	PresetFull     Preset = "full"
)

// Workflow names created by the starter snapshot.
const (
	WorkflowDaily   = "daily-maintenance"
	WorkflowRelease = "release-preparation"
	WorkflowWeekly  = "weekly-review"
)

// ParsePreset validates a preset name. Empty selects PresetStandard.
func ParsePreset(s string) (Preset, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case "", PresetStandard:
		return PresetStandard, nil
	case PresetMinimal:
		return PresetMinimal, nil
	case PresetFull:
		return PresetFull, nil
	default:
		return "", fmt.Errorf("unknown preset %q (valid: minimal, standard, full): %w", s, tasks.ErrValidation)
	}
}

type RepoSignals struct {
	HasRelease bool
	HasADR     bool
	HasGo      bool
	HasNode    bool
}

// DetectRepoSignals inspects a workspace root for release, ADR and toolchain
// markers.
func DetectRepoSignals(root string) RepoSignals {
	signals := RepoSignals{}
	if root == "" {
		return signals
	}
	signals.HasRelease = hasAny(root, []string{
		"CHANGELOG.md",
		filepath.Join(".github", "workflows", "release.yml"),
		filepath.Join(".github", "workflows", "release.yaml"),
	})
	signals.HasADR = hasAny(root, []string{
		filepath.Join("docs", "adr"),
		filepath.Join("docs", "ADR"),
		"adr",
		"ADR",
	})
	signals.HasGo = fileExists(filepath.Join(root, "go.mod"))
	signals.HasNode = fileExists(filepath.Join(root, "package.json"))
	return signals
}

func starterTask(id, name, desc string, p tasks.Priority, est string, deps ...string) tasks.Task {
	if deps == nil {
		deps = []string{}
	}
	return tasks.Task{
		ID:            id,
		Name:          name,
		Description:   desc,
		Priority:      p,
		EstimatedTime: est,
		Dependencies:  deps,
		Automatable:   true,
		Status:        tasks.StatusPending,
	}
}

// StarterSnapshot returns the initial tasks and workflows for a workspace.
// Every preset carries the four-step setup, review, test and docs chain and a
// manual release workflow. Standard adds the daily schedule and, with release
// signals, a release-notes task. Full adds an architecture review.
func StarterSnapshot(preset Preset, signals RepoSignals, now time.Time) tasks.Snapshot {
	snap := tasks.Snapshot{
		ProjectTasks: []tasks.Task{
			starterTask("task_001", "Project setup", "Set up the base project structure and dependencies",
				tasks.PriorityHigh, "2h"),
			starterTask("task_002", "Code quality review", "Run automated code review and quality checks",
				tasks.PriorityMedium, "30m", "task_001"),
			starterTask("task_003", "Test and validate", "Run every test and validate behaviour",
				tasks.PriorityHigh, "1h", "task_002"),
			starterTask("task_004", "Update documentation", "Bring documentation in line with recent changes",
				tasks.PriorityMedium, "45m", "task_003"),
		},
		LastUpdated: now.UTC(),
	}
	release := tasks.Workflow{
		Name:        WorkflowRelease,
		Description: "Prepare a release",
		Trigger:     tasks.TriggerManual,
		Tasks:       []string{"task_002", "task_003", "task_004"},
	}

	if preset != PresetMinimal {
		snap.Workflows = append(snap.Workflows, tasks.Workflow{
			Name:        WorkflowDaily,
			Description: "Daily maintenance routine",
			Schedule:    "0 9 * * *",
			Tasks:       []string{"task_002", "task_003"},
		})
		if signals.HasRelease {
			snap.ProjectTasks = append(snap.ProjectTasks, starterTask("task_005", "Draft release notes",
				"Summarize changes since the last tag", tasks.PriorityMedium, "1h", "task_003"))
			release.Tasks = append(release.Tasks, "task_005")
		}
	}
	if preset == PresetFull {
		deps := []string{}
		if signals.HasADR {
			deps = append(deps, "task_004")
		}
		snap.ProjectTasks = append(snap.ProjectTasks, starterTask("task_006", "Architecture review",
			"Check recent changes against recorded design decisions", tasks.PriorityLow, "30m", deps...))
		snap.Workflows = append(snap.Workflows, tasks.Workflow{
			Name:        WorkflowWeekly,
			Description: "Weekly review",
			Schedule:    "0 8 * * 1",
			Tasks:       []string{"task_002", "task_006"},
		})
	}

	snap.Workflows = append(snap.Workflows, release)
	return snap
}

type starterQualityCheck struct {
	Name     string   `yaml:"name"`
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args,omitempty"`
	Severity string   `yaml:"severity,omitempty"`
}

type starterFiles struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type starterMonitor struct {
	Files         starterFiles          `yaml:"files"`
	QualityChecks []starterQualityCheck `yaml:"quality_checks,omitempty"`
}

type starterPersistence struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type starterLogging struct {
	Level string `yaml:"level"`
}

type starterConfig struct {
	AutoSave    bool               `yaml:"auto_save"`
	Persistence starterPersistence `yaml:"persistence"`
	Monitor     starterMonitor     `yaml:"monitor"`
	Logging     starterLogging     `yaml:"logging"`
}

// StarterConfig renders a taskmaster.yaml for the workspace. Quality checks
// are added for detected toolchains.
func StarterConfig(signals RepoSignals, driver string) ([]byte, error) {
	var c starterConfig
	c.AutoSave = true
	c.Persistence.Driver = driver
	switch driver {
	case "sqlite":
		c.Persistence.Path = "tasks/taskmaster.db"
	case "yaml":
		c.Persistence.Path = "tasks/current-tasks.yaml"
	default:
		c.Persistence.Path = config.DefaultSnapshotPath
	}
	c.Monitor.Files.Enabled = true
	c.Monitor.Files.Patterns = config.DefaultFilePatterns
	c.Logging.Level = config.DefaultLogLevel

	if signals.HasGo {
		c.Monitor.QualityChecks = append(c.Monitor.QualityChecks, starterQualityCheck{
			Name: "go-vet", Command: "go", Args: []string{"vet", "./..."}, Severity: "high",
		})
	}
	if signals.HasNode {
		c.Monitor.QualityChecks = append(c.Monitor.QualityChecks, starterQualityCheck{
			Name: "npm-lint", Command: "npm", Args: []string{"run", "--silent", "lint"},
		})
	}
	return yaml.Marshal(c)
}

func hasAny(root string, relPaths []string) bool {
	for _, rel := range relPaths {
		path := filepath.Join(root, rel)
		if info, err := os.Stat(path); err == nil {
			if info.IsDir() || strings.HasSuffix(rel, ".md") || strings.HasSuffix(rel, ".yml") || strings.HasSuffix(rel, ".yaml") {
				return true
			}
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
