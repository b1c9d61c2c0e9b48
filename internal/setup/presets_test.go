package setup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marcus/taskmaster/internal/tasks"
)

func TestDetectRepoSignalsEmpty(t *testing.T) {
	signals := DetectRepoSignals(t.TempDir())
	if signals != (RepoSignals{}) {
		t.Fatalf("expected no signals, got %+v", signals)
	}
	if DetectRepoSignals("") != (RepoSignals{}) {
		t.Fatal("expected no signals for empty root")
	}
}

func TestDetectRepoSignalsChangelog(t *testing.T) {
	tmpdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpdir, "CHANGELOG.md"), []byte("# Changelog\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	signals := DetectRepoSignals(tmpdir)
	if !signals.HasRelease {
		t.Fatal("expected HasRelease=true for CHANGELOG.md")
	}
}

func TestDetectRepoSignalsReleaseWorkflow(t *testing.T) {
	tmpdir := t.TempDir()
	workflowDir := filepath.Join(tmpdir, ".github", "workflows")
	if err := os.MkdirAll(workflowDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workflowDir, "release.yml"), []byte("name: release\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	signals := DetectRepoSignals(tmpdir)
	if !signals.HasRelease {
		t.Fatal("expected HasRelease=true for release.yml")
	}
}

func TestDetectRepoSignalsADR(t *testing.T) {
	for _, rel := range []string{filepath.Join("docs", "adr"), "adr"} {
		tmpdir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(tmpdir, rel), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if !DetectRepoSignals(tmpdir).HasADR {
			t.Errorf("expected HasADR=true for %s", rel)
		}
	}
}

func TestDetectRepoSignalsToolchains(t *testing.T) {
	tmpdir := t.TempDir()
	for _, name := range []string{"go.mod", "package.json"} {
		if err := os.WriteFile(filepath.Join(tmpdir, name), []byte("{}"), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	signals := DetectRepoSignals(tmpdir)
	if !signals.HasGo || !signals.HasNode {
		t.Fatalf("signals = %+v", signals)
	}
}

func TestParsePreset(t *testing.T) {
	tests := []struct {
		input string
		want  Preset
		err   bool
	}{
		{"", PresetStandard, false},
		{"standard", PresetStandard, false},
		{"MINIMAL", PresetMinimal, false},
		{" full ", PresetFull, false},
		{"aggressive", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePreset(tt.input)
		if tt.err {
			if !errors.Is(err, tasks.ErrValidation) {
				t.Errorf("ParsePreset(%q): want validation error, got %v", tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParsePreset(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
		}
	}
}

func taskIDs(snap tasks.Snapshot) []string {
	var ids []string
	for _, t := range snap.ProjectTasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func workflowNames(snap tasks.Snapshot) []string {
	var names []string
	for _, w := range snap.Workflows {
		names = append(names, w.Name)
	}
	return names
}

func TestStarterSnapshot(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		preset    Preset
		signals   RepoSignals
		tasks     string
		workflows string
	}{
		{"minimal", PresetMinimal, RepoSignals{HasRelease: true}, "task_001 task_002 task_003 task_004", "release-preparation"},
		{"standard", PresetStandard, RepoSignals{}, "task_001 task_002 task_003 task_004", "daily-maintenance release-preparation"},
		{"standard with release", PresetStandard, RepoSignals{HasRelease: true}, "task_001 task_002 task_003 task_004 task_005", "daily-maintenance release-preparation"},
		{"full", PresetFull, RepoSignals{}, "task_001 task_002 task_003 task_004 task_006", "daily-maintenance weekly-review release-preparation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := StarterSnapshot(tt.preset, tt.signals, now)
			if got := strings.Join(taskIDs(snap), " "); got != tt.tasks {
				t.Errorf("tasks = %s, want %s", got, tt.tasks)
			}
			if got := strings.Join(workflowNames(snap), " "); got != tt.workflows {
				t.Errorf("workflows = %s, want %s", got, tt.workflows)
			}
			if !snap.LastUpdated.Equal(now) {
				t.Errorf("LastUpdated = %v", snap.LastUpdated)
			}
		})
	}
}

func TestStarterSnapshotLoads(t *testing.T) {
	snap := StarterSnapshot(PresetFull, RepoSignals{HasRelease: true, HasADR: true}, time.Now())
	reg := tasks.NewRegistry()
	n, w, err := reg.Load(snap)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n != 6 || w != 3 {
		t.Errorf("loaded %d tasks, %d workflows", n, w)
	}
	blocked := tasks.FindBlocked(reg.Tasks())
	if len(blocked) != 5 {
		t.Errorf("blocked = %d, want 5 (only task_001 is free)", len(blocked))
	}
	release, err := reg.Workflow(WorkflowRelease)
	if err != nil {
		t.Fatal(err)
	}
	if release.TriggerKind() != tasks.TriggerManual || len(release.Tasks) != 4 {
		t.Errorf("release workflow = %+v", release)
	}
}

func TestStarterConfig(t *testing.T) {
	data, err := StarterConfig(RepoSignals{HasGo: true}, "sqlite")
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, data)
	}
	persistence := doc["persistence"].(map[string]any)
	if persistence["driver"] != "sqlite" || persistence["path"] != "tasks/taskmaster.db" {
		t.Errorf("persistence = %v", persistence)
	}
	if !strings.Contains(string(data), "go-vet") {
		t.Errorf("expected go-vet check:\n%s", data)
	}
	if strings.Contains(string(data), "npm-lint") {
		t.Errorf("unexpected npm check:\n%s", data)
	}
}

func TestHasAnyFileExists(t *testing.T) {
	tmpdir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpdir, "test.md"), []byte("test"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if !hasAny(tmpdir, []string{"test.md"}) {
		t.Fatal("expected hasAny to return true for existing file")
	}
	if hasAny(tmpdir, []string{"missing.md"}) {
		t.Fatal("expected hasAny to return false for missing file")
	}
}
