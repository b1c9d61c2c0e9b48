package workspace

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/marcus/taskmaster/internal/config"
	"github.com/marcus/taskmaster/internal/logging"
	"github.com/marcus/taskmaster/internal/monitor"
	"github.com/marcus/taskmaster/internal/tasks"
)

// maxParallelChecks bounds concurrently running check commands.
const maxParallelChecks = 4

type qualityCheck struct {
	config.QualityCheckConfig
	match *regexp.Regexp
}

// QualityChecker runs configured commands and turns failing ones into problems.
type QualityChecker struct {
	dir    string
	checks []qualityCheck
	logger *logging.Logger
}

// NewQualityChecker prepares checks to run in dir.
func NewQualityChecker(dir string, checks []config.QualityCheckConfig) (*QualityChecker, error) {
	q := &QualityChecker{dir: dir, logger: logging.Component("workspace")}
	for i, c := range checks {
		qc := qualityCheck{QualityCheckConfig: c}
		if c.Match != "" {
			re, err := regexp.Compile(c.Match)
			if err != nil {
				return nil, &tasks.ConfigError{
					Source: fmt.Sprintf("monitor.quality_checks[%d].match", i),
					Err:    err,
				}
			}
			qc.match = re
		}
		if qc.Severity == "" {
			qc.Severity = "medium"
		}
		q.checks = append(q.checks, qc)
	}
	return q, nil
}

// Check runs every check concurrently. A command that exits non-zero yields
// a problem counting the matching output lines. Commands missing from PATH
// are skipped.
func (q *QualityChecker) Check(ctx context.Context) ([]monitor.Problem, error) {
	if len(q.checks) == 0 {
		return nil, nil
	}
	p := pool.NewWithResults[*monitor.Problem]().
		WithContext(ctx).
		WithMaxGoroutines(maxParallelChecks)
	for _, c := range q.checks {
		c := c
		p.Go(func(ctx context.Context) (*monitor.Problem, error) {
			return q.run(ctx, c)
		})
	}
	results, err := p.Wait()

	var problems []monitor.Problem
	for _, r := range results {
		if r != nil {
			problems = append(problems, *r)
		}
	}
	return problems, err
}

func (q *QualityChecker) run(ctx context.Context, c qualityCheck) (*monitor.Problem, error) {
	if _, err := exec.LookPath(c.Command); err != nil {
		q.logger.DebugCtx("quality check skipped", map[string]any{"check": c.Name, "command": c.Command})
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = q.dir
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || ctx.Err() != nil {
		return nil, &tasks.IOError{Op: "run " + c.Name, Path: q.dir, Err: err}
	}

	count := countFindings(string(out), c.match)
	if count == 0 {
		count = 1
	}
	return &monitor.Problem{
		Check:      c.Name,
		Severity:   c.Severity,
		Message:    fmt.Sprintf("%s reported %d findings (exit %d)", c.Name, count, exitErr.ExitCode()),
		Count:      count,
		Suggestion: c.Suggestion,
	}, nil
}

// countFindings counts lines matching re, or non-blank lines when re is nil.
func countFindings(out string, re *regexp.Regexp) int {
	n := 0
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if re == nil {
			if strings.TrimSpace(line) != "" {
				n++
			}
			continue
		}
		if re.MatchString(line) {
			n++
		}
	}
	return n
}
