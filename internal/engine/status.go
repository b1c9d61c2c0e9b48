package engine

import (
	"context"
	"fmt"

	"github.com/marcus/taskmaster/internal/tasks"
)

// Status is an aggregate view of the registry.
type Status struct {
	TotalTasks             int                           `json:"totalTasks"`
	TasksByStatus          map[tasks.Status][]tasks.Task `json:"tasksByStatus"`
	Priorities             map[tasks.Priority]int        `json:"priorities"`
	Workflows              int                           `json:"workflows"`
	EstimatedHours         int                           `json:"-"`
	EstimatedTimeRemaining string                        `json:"estimatedTimeRemaining"`
	ProjectHealth          tasks.Health                  `json:"projectHealth"`
	Risk                   tasks.Risk                    `json:"risk"`
	Blocked                []tasks.Task                  `json:"blocked"`
	NextActions            []tasks.Recommendation        `json:"nextActions"`
	AISuggestions          []string                      `json:"aiSuggestions"`
}

// Status computes the aggregate view from one consistent snapshot.
func (e *Engine) Status(ctx context.Context) Status {
	snap := e.registry.Snapshot()
	all := snap.ProjectTasks
	hours := tasks.EstimatedHours(all)

	return Status{
		TotalTasks:             len(all),
		TasksByStatus:          tasks.GroupByStatus(all),
		Priorities:             tasks.CountByPriority(all),
		Workflows:              len(snap.Workflows),
		EstimatedHours:         hours,
		EstimatedTimeRemaining: fmt.Sprintf("%dh", hours),
		ProjectHealth:          tasks.ProjectHealth(all),
		Risk:                   tasks.AssessRisk(all, e.config.RiskThreshold),
		Blocked:                tasks.FindBlocked(all),
		NextActions:            tasks.RecommendNext(all, e.config.RecommendedActions),
		AISuggestions:          e.advisor.ProjectSuggestions(all),
	}
}
