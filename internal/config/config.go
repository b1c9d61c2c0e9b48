// Package config handles loading and validating taskmaster configuration.
// A global YAML file is merged with a per-project taskmaster.yaml, and
// TASKMASTER_* environment variables override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/marcus/taskmaster/internal/tasks"
)

// Defaults.
const (
	DefaultWorkspace          = "."
	DefaultAutoSave           = true
	DefaultDriver             = "json"
	DefaultSnapshotPath       = "tasks/current-tasks.json"
	DefaultStepDelay          = 500 * time.Millisecond
	DefaultRiskThreshold      = 3
	DefaultRecommendedActions = 3
	DefaultLargeChangeset     = 10
	DefaultFilesInterval      = 5 * time.Second
	DefaultGitInterval        = 10 * time.Second
	DefaultAnalysisInterval   = 30 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultRetentionDays      = 7

	ProjectConfigName = "taskmaster.yaml"
	EnvPrefix         = "TASKMASTER"
)

// DefaultFilePatterns are the workspace globs watched when none are configured.
var DefaultFilePatterns = []string{"**/*.js", "**/*.ts", "**/*.go", "**/*.json", "**/*.md"}

// Validation errors.
var (
	ErrCronAndInterval  = errors.New("schedule: cron and interval are mutually exclusive")
	ErrNoScheduleSpec   = errors.New("schedule: cron or interval is required")
	ErrInvalidLogLevel  = errors.New("logging.level must be debug, info, warn or error")
	ErrInvalidLogFormat = errors.New("logging.format must be json or text")
	ErrInvalidDriver    = errors.New("persistence.driver must be json, yaml or sqlite")
	ErrInvalidThreshold = errors.New("analysis thresholds must not be negative")
)

// Config holds all taskmaster configuration.
type Config struct {
	Workspace   string            `mapstructure:"workspace"`
	AutoSave    bool              `mapstructure:"auto_save"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Schedules   []ScheduleConfig  `mapstructure:"schedules"`
	Logging     LoggingConfig     `mapstructure:"logging"`

	// Sources lists the config files actually read, global first.
	Sources []string `mapstructure:"-"`
	// LoadErrors holds files that could not be parsed and were skipped.
	LoadErrors []error `mapstructure:"-"`
}

// PersistenceConfig selects where snapshots live.
type PersistenceConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	Seed   string `mapstructure:"seed"` // snapshot loaded when the store is empty
}

// ExecutionConfig tunes task runs.
type ExecutionConfig struct {
	StepDelay           time.Duration `mapstructure:"step_delay"`
	EnforceDependencies bool          `mapstructure:"enforce_dependencies"`
}

// AnalysisConfig tunes the advisory thresholds.
type AnalysisConfig struct {
	RiskThreshold      int `mapstructure:"risk_threshold"`
	RecommendedActions int `mapstructure:"recommended_actions"`
	LargeChangeset     int `mapstructure:"large_changeset"`
}

// MonitorConfig configures the background jobs.
type MonitorConfig struct {
	Files         FilesMonitorConfig   `mapstructure:"files"`
	Git           JobConfig            `mapstructure:"git"`
	Analysis      JobConfig            `mapstructure:"analysis"`
	QualityChecks []QualityCheckConfig `mapstructure:"quality_checks"`
}

// JobConfig enables a job and sets its period.
type JobConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// FilesMonitorConfig adds watched patterns to a job.
type FilesMonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Patterns []string      `mapstructure:"patterns"`
}

// QualityCheckConfig describes one external code-quality command.
type QualityCheckConfig struct {
	Name       string   `mapstructure:"name"`
	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	Severity   string   `mapstructure:"severity"`
	Match      string   `mapstructure:"match"` // regexp counted in output; empty counts lines
	Suggestion string   `mapstructure:"suggestion"`
}

// ScheduleConfig binds a workflow to a cron expression or interval.
type ScheduleConfig struct {
	Workflow string        `mapstructure:"workflow"`
	Cron     string        `mapstructure:"cron"`
	Interval string        `mapstructure:"interval"`
	Window   *WindowConfig `mapstructure:"window"`
	Fire     bool          `mapstructure:"fire"` // run the workflow on each tick
}

// WindowConfig restricts runs to a daily time window.
type WindowConfig struct {
	Start    string `mapstructure:"start"` // HH:MM
	End      string `mapstructure:"end"`   // HH:MM, exclusive
	Timezone string `mapstructure:"timezone"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DefaultGlobalPath returns ~/.config/taskmaster/config.yaml.
func DefaultGlobalPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskmaster", "config.yaml")
}

// Load reads configuration for the current directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, &tasks.ConfigError{Source: "workspace", Err: err}
	}
	return LoadFromPaths(cwd, DefaultGlobalPath())
}

// LoadFromPaths reads globalPath, then merges projectDir/taskmaster.yaml on
// top. Missing files are skipped. A file that does not parse is skipped too
// and recorded in LoadErrors; invalid values are returned as errors. Errors
// are *tasks.ConfigError.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var (
		sources    []string
		loadErrors []error
	)
	for _, path := range []string{globalPath, filepath.Join(projectDir, ProjectConfigName)} {
		if path == "" || !fileExists(path) {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			loadErrors = append(loadErrors, &tasks.ConfigError{Source: path, Err: err})
			continue
		}
		sources = append(sources, path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &tasks.ConfigError{Source: "config", Err: err}
	}
	cfg.Sources = sources
	cfg.LoadErrors = loadErrors

	cfg.Workspace = ExpandPath(cfg.Workspace)
	if !filepath.IsAbs(cfg.Workspace) {
		cfg.Workspace = filepath.Join(projectDir, cfg.Workspace)
	}
	cfg.Persistence.Seed = ExpandPath(cfg.Persistence.Seed)
	cfg.Logging.Path = ExpandPath(cfg.Logging.Path)

	if err := Validate(cfg); err != nil {
		return nil, &tasks.ConfigError{Source: strings.Join(sources, ","), Err: err}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace", DefaultWorkspace)
	v.SetDefault("auto_save", DefaultAutoSave)
	v.SetDefault("persistence.driver", DefaultDriver)
	v.SetDefault("persistence.path", DefaultSnapshotPath)
	v.SetDefault("persistence.seed", "")
	v.SetDefault("execution.step_delay", DefaultStepDelay)
	v.SetDefault("execution.enforce_dependencies", true)
	v.SetDefault("analysis.risk_threshold", DefaultRiskThreshold)
	v.SetDefault("analysis.recommended_actions", DefaultRecommendedActions)
	v.SetDefault("analysis.large_changeset", DefaultLargeChangeset)
	v.SetDefault("monitor.files.enabled", true)
	v.SetDefault("monitor.files.interval", DefaultFilesInterval)
	v.SetDefault("monitor.files.patterns", DefaultFilePatterns)
	v.SetDefault("monitor.git.enabled", true)
	v.SetDefault("monitor.git.interval", DefaultGitInterval)
	v.SetDefault("monitor.analysis.enabled", true)
	v.SetDefault("monitor.analysis.interval", DefaultAnalysisInterval)
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.retention_days", DefaultRetentionDays)
}

// Validate checks enumerations, thresholds and schedules.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return ErrInvalidLogFormat
	}
	switch cfg.Persistence.Driver {
	case "", "json", "yaml", "sqlite":
	default:
		return ErrInvalidDriver
	}
	if cfg.Analysis.RiskThreshold < 0 || cfg.Analysis.RecommendedActions < 0 || cfg.Analysis.LargeChangeset < 0 {
		return ErrInvalidThreshold
	}
	if cfg.Execution.StepDelay < 0 {
		return fmt.Errorf("execution.step_delay %s must not be negative", cfg.Execution.StepDelay)
	}

	for name, d := range map[string]time.Duration{
		"monitor.files.interval":    cfg.Monitor.Files.Interval,
		"monitor.git.interval":      cfg.Monitor.Git.Interval,
		"monitor.analysis.interval": cfg.Monitor.Analysis.Interval,
	} {
		if d < 0 {
			return fmt.Errorf("%s %s must be positive", name, d)
		}
	}

	for i, qc := range cfg.Monitor.QualityChecks {
		if qc.Name == "" || qc.Command == "" {
			return fmt.Errorf("monitor.quality_checks[%d]: name and command are required", i)
		}
	}

	for i, sc := range cfg.Schedules {
		if err := validateSchedule(sc); err != nil {
			if errors.Is(err, ErrCronAndInterval) || errors.Is(err, ErrNoScheduleSpec) {
				return err
			}
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
	}
	return nil
}

func validateSchedule(sc ScheduleConfig) error {
	if sc.Cron != "" && sc.Interval != "" {
		return ErrCronAndInterval
	}
	if sc.Cron == "" && sc.Interval == "" {
		return ErrNoScheduleSpec
	}
	if sc.Cron != "" {
		if _, err := cron.ParseStandard(sc.Cron); err != nil {
			return fmt.Errorf("cron %q: %w", sc.Cron, err)
		}
	}
	if sc.Interval != "" {
		d, err := time.ParseDuration(sc.Interval)
		if err != nil {
			return fmt.Errorf("interval %q: %w", sc.Interval, err)
		}
		if d <= 0 {
			return fmt.Errorf("interval %q must be positive", sc.Interval)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
