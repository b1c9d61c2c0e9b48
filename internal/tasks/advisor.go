package tasks

import "fmt"

// Advisor produces human-readable advice from task state. Implementations may
// consult an external service; HeuristicAdvisor derives advice locally.
type Advisor interface {
	CompletionSuggestions(t Task) []string
	ProjectSuggestions(all []Task) []string
}

// HeuristicAdvisor is the built-in Advisor.
type HeuristicAdvisor struct{}

// CompletionSuggestions returns follow-ups for a finished task.
func (HeuristicAdvisor) CompletionSuggestions(t Task) []string {
	return []string{
		fmt.Sprintf("Consider automating tasks similar to %q", t.Name),
		fmt.Sprintf("%s-priority tasks like this one may deserve more resources", t.Priority),
		fmt.Sprintf("Document the process behind %q for future automation", t.Name),
	}
}

// ProjectSuggestions returns project-wide advice.
func (HeuristicAdvisor) ProjectSuggestions(all []Task) []string {
	var pending, completed int
	highPending := false
	for _, t := range all {
		switch t.Status {
		case StatusPending:
			pending++
			if t.Priority == PriorityHigh {
				highPending = true
			}
		case StatusCompleted:
			completed++
		}
	}

	var out []string
	if pending > completed {
		out = append(out, "Focus on finishing existing tasks before adding new ones")
	}
	if highPending {
		out = append(out, "High-priority tasks are waiting and need immediate attention")
	}
	return out
}

// CompletionInsight summarises a finished task's automation potential.
type CompletionInsight struct {
	TaskID              string `json:"taskId"`
	Name                string `json:"name"`
	AutomationPotential bool   `json:"automationPotential"`
	Message             string `json:"message"`
}

// AnalyzeCompletion builds the post-completion insight for t.
func AnalyzeCompletion(t Task) CompletionInsight {
	msg := fmt.Sprintf("Task %q completed. Similar tasks could be automated in the future.", t.Name)
	if !t.Automatable {
		msg = fmt.Sprintf("Task %q completed. It is marked as manual work.", t.Name)
	}
	return CompletionInsight{
		TaskID:              t.ID,
		Name:                t.Name,
		AutomationPotential: t.Automatable,
		Message:             msg,
	}
}
