package models

import "time"

// ResolutionStatus is the terminal outcome of plan execution.
type ResolutionStatus string

const (
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionFailed   ResolutionStatus = "failed"
	ResolutionSkipped  ResolutionStatus = "skipped"
)

// IsValid checks if the resolution status is known.
func (s ResolutionStatus) IsValid() bool {
	switch s {
	case ResolutionResolved, ResolutionFailed, ResolutionSkipped:
		return true
	default:
		return false
	}
}

// Resolution reports the outcome of executing (or declining) one plan.
// Outputs stay loosely typed: execution entries carry {step, tool, result}
// while policy entries such as the autonomy stop carry their own shape, and
// downstream consumers treat both as opaque evidence.
type Resolution struct {
	IncidentID       string           `json:"incident_id"`
	PlanID           string           `json:"plan_id"`
	Status           ResolutionStatus `json:"status"`
	ResolutionAction string           `json:"resolution_action,omitempty"`
	Outputs          []map[string]any `json:"outputs,omitempty"`
	DurationMS       int64            `json:"duration_ms"`
	Timestamp        *time.Time       `json:"timestamp,omitempty"`
	Notes            string           `json:"notes,omitempty"`
}

// StepOutput builds the standard per-step output entry.
func StepOutput(step int, tool string, result map[string]any) map[string]any {
	return map[string]any{
		"step":   step,
		"tool":   tool,
		"result": result,
	}
}

// PolicyOutput builds the output entry for a plan stopped by policy rather
// than by a failing step.
func PolicyOutput(policy, message string) map[string]any {
	return map[string]any{
		"tool":  policy,
		"ok":    false,
		"error": message,
	}
}
