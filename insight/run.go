package insight

import "time"

// RunStatus describes the lifecycle phase of a pipeline run.
type RunStatus string

const (
	// StatusPending means the run has been accepted but work has not started.
	StatusPending RunStatus = "pending"

	// StatusRunning means workspace preparation or the workflow is in progress.
	StatusRunning RunStatus = "running"

	// StatusCompleted means the workflow finished and results were persisted.
	StatusCompleted RunStatus = "completed"

	// StatusFailed means the run stopped before producing a complete result.
	StatusFailed RunStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the lifecycle. Terminal statuses share a rank
// because a run settles into exactly one of them.
func (s RunStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Transitions are monotonic: a run never moves backward, and a
// terminal status never changes.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Run is a single execution of the insight pipeline for a project.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// ProjectID identifies the project the run analyzes.
	ProjectID string `json:"project_id"`

	// Status is the current lifecycle phase.
	Status RunStatus `json:"status"`

	// StartedAt is when the run was accepted.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the failure reason for failed runs.
	Error string `json:"error,omitempty"`

	// ItemsSaved counts the metric items persisted for this run.
	ItemsSaved int `json:"items_saved"`
}
