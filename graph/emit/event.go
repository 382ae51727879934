// Package emit provides observability events for workflow execution.
package emit

// Event is an observability event emitted during workflow execution.
//
// Events describe engine-internal progress (node start/end, branch spawn,
// join completion, failures) and are consumed by an Emitter backend. They
// are distinct from the user-facing broadcast messages: events exist for
// operators, broadcast messages for run observers.
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Step is the sequential step number in the run (1-indexed).
	// Zero for run-level events.
	Step int

	// NodeID identifies which node emitted this event, if any.
	NodeID string

	// Branch identifies the fan-out branch the event belongs to.
	// Empty for events outside a fan-out stage.
	Branch string

	// Msg is a short machine-stable event name, e.g. "node_end".
	Msg string

	// Meta carries additional structured data: "duration_ms", "error",
	// "branches", "join".
	Meta map[string]interface{}
}

// Standard event names emitted by the engine.
const (
	EventNodeStart   = "node_start"
	EventNodeEnd     = "node_end"
	EventBranchSpawn = "branch_spawn"
	EventBranchEnd   = "branch_end"
	EventJoin        = "join"
	EventRunEnd      = "run_end"
	EventRunError    = "run_error"
)
