package workspace

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/marcus/taskmaster/internal/monitor"
	"github.com/marcus/taskmaster/internal/tasks"
)

// GitStatus reports uncommitted changes in a repository.
type GitStatus struct {
	dir string
}

// NewGitStatus creates a repository status source for dir.
func NewGitStatus(dir string) *GitStatus {
	return &GitStatus{dir: dir}
}

// Poll runs git status in the repository.
func (g *GitStatus) Poll(ctx context.Context) (monitor.RepoStatus, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = g.dir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			err = &gitError{msg: strings.TrimSpace(string(ee.Stderr)), err: err}
		}
		return monitor.RepoStatus{}, &tasks.IOError{Op: "git status", Path: g.dir, Err: err}
	}

	files := parsePorcelain(string(out))
	return monitor.RepoStatus{HasChanges: len(files) > 0, Files: files}, nil
}

type gitError struct {
	msg string
	err error
}

func (e *gitError) Error() string { return e.msg }
func (e *gitError) Unwrap() error { return e.err }

// parsePorcelain extracts paths from `git status --porcelain` (v1) output.
// Renames report the new path.
func parsePorcelain(out string) []string {
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if _, to, ok := strings.Cut(path, " -> "); ok {
			path = to
		}
		if strings.HasPrefix(path, `"`) {
			if unq, err := strconv.Unquote(path); err == nil {
				path = unq
			}
		}
		files = append(files, path)
	}
	return files
}
