package tasks

import (
	"fmt"
	"sort"
)

// DefaultRiskThreshold is the number of pending high-priority tasks a project
// tolerates before it is rated high risk.
const DefaultRiskThreshold = 3

// DefaultRecommendations is the default size of the next-actions list.
const DefaultRecommendations = 3

// FindBlocked returns every task with at least one dependency that is not
// completed. A dependency id with no matching task never unblocks.
func FindBlocked(all []Task) []Task {
	status := StatusIndex(all)
	var blocked []Task
	for _, t := range all {
		if len(UnfinishedDeps(t, status)) > 0 {
			blocked = append(blocked, t)
		}
	}
	return blocked
}

// StatusIndex maps task ids to their status.
func StatusIndex(all []Task) map[string]Status {
	idx := make(map[string]Status, len(all))
	for _, t := range all {
		idx[t.ID] = t.Status
	}
	return idx
}

// UnfinishedDeps returns the dependencies of t that are not completed
// according to status, including ids absent from it.
func UnfinishedDeps(t Task, status map[string]Status) []string {
	var pending []string
	for _, dep := range t.Dependencies {
		if s, ok := status[dep]; !ok || s != StatusCompleted {
			pending = append(pending, dep)
		}
	}
	return pending
}

// Recommendation is a pending task suggested as a next action.
type Recommendation struct {
	TaskID   string   `json:"taskId"`
	Name     string   `json:"name"`
	Priority Priority `json:"priority"`
	Reason   string   `json:"reason"`
}

// RecommendNext returns up to n pending tasks ordered by priority, highest
// first, keeping input order among equal priorities.
func RecommendNext(all []Task, n int) []Recommendation {
	if n <= 0 {
		return nil
	}
	var pending []Task
	for _, t := range all {
		if t.Status == StatusPending {
			pending = append(pending, t)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority.Rank() > pending[j].Priority.Rank()
	})
	if len(pending) > n {
		pending = pending[:n]
	}

	recs := make([]Recommendation, 0, len(pending))
	for _, t := range pending {
		recs = append(recs, Recommendation{
			TaskID:   t.ID,
			Name:     t.Name,
			Priority: t.Priority,
			Reason:   recommendationReason(t.Priority),
		})
	}
	return recs
}

func recommendationReason(p Priority) string {
	if p == PriorityHigh {
		return "high-priority task that should be started"
	}
	return fmt.Sprintf("%s-priority task ready to start", p)
}

// RiskLevel grades project risk.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// Risk is the outcome of AssessRisk.
type Risk struct {
	Level               RiskLevel `json:"level"`
	Reason              string    `json:"reason"`
	HighPriorityPending int       `json:"highPriorityPending"`
	Threshold           int       `json:"threshold"`
}

// AssessRisk rates the project high risk when more than threshold
// high-priority tasks are still pending.
func AssessRisk(all []Task, threshold int) Risk {
	count := 0
	for _, t := range all {
		if t.Priority == PriorityHigh && t.Status == StatusPending {
			count++
		}
	}
	if count > threshold {
		return Risk{
			Level:               RiskHigh,
			Reason:              fmt.Sprintf("%d high-priority tasks have not been started", count),
			HighPriorityPending: count,
			Threshold:           threshold,
		}
	}
	return Risk{
		Level:               RiskLow,
		Reason:              "project appears to be on track",
		HighPriorityPending: count,
		Threshold:           threshold,
	}
}

// Health is a coarse completion band.
type Health string

const (
	HealthExcellent      Health = "excellent"
	HealthGood           Health = "good"
	HealthFair           Health = "fair"
	HealthNeedsAttention Health = "needs_attention"
	HealthUnknown        Health = "unknown"
)

// ProjectHealth maps the completed/total ratio to a band. Bounds are strict:
// exactly 0.8 is good, exactly 0.6 is fair.
func ProjectHealth(all []Task) Health {
	if len(all) == 0 {
		return HealthUnknown
	}
	completed := 0
	for _, t := range all {
		if t.Status == StatusCompleted {
			completed++
		}
	}
	rate := float64(completed) / float64(len(all))
	switch {
	case rate > 0.8:
		return HealthExcellent
	case rate > 0.6:
		return HealthGood
	case rate > 0.4:
		return HealthFair
	default:
		return HealthNeedsAttention
	}
}

// EstimatedHours sums the whole-hour estimates of tasks not yet completed.
func EstimatedHours(all []Task) int {
	total := 0
	for _, t := range all {
		if t.Status != StatusCompleted {
			total += t.EstimatedHours()
		}
	}
	return total
}

// CountByPriority counts tasks per known priority. Every priority is present.
func CountByPriority(all []Task) map[Priority]int {
	counts := make(map[Priority]int, len(Priorities))
	for _, p := range Priorities {
		counts[p] = 0
	}
	for _, t := range all {
		if t.Priority.Valid() {
			counts[t.Priority]++
		}
	}
	return counts
}

// GroupByStatus buckets tasks by status, keeping input order in each bucket.
// Statuses with no tasks are absent.
func GroupByStatus(all []Task) map[Status][]Task {
	groups := make(map[Status][]Task)
	for _, t := range all {
		groups[t.Status] = append(groups[t.Status], t)
	}
	return groups
}
