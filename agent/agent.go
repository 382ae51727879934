// Package agent defines the reasoning collaborator: an LLM-backed service
// that produces schema-validated structured output and may call
// sandbox-backed tools while doing so.
package agent

import "context"

// Agent is the reasoning collaborator invoked by pipeline nodes.
//
// Implementations wrap a specific LLM provider. An invocation may use its
// step budget for internal tool calls (listing, searching, and reading
// repository files through the sandbox) before producing the final
// structured output.
//
// Implementations must be safe for concurrent use: fan-out branches invoke
// the same agent from many goroutines.
type Agent interface {
	// Invoke runs one reasoning request and returns its parsed output.
	// The returned error covers provider failures, exhausted step budgets,
	// and output that does not match the requested schema.
	Invoke(ctx context.Context, req Request) (Output, error)
}

// Request describes one reasoning invocation.
type Request struct {
	// System sets the assistant's role and constraints.
	System string

	// Prompt is the task-specific user prompt.
	Prompt string

	// Kind selects the structured output schema the response must match.
	Kind OutputKind

	// StepBudget bounds the number of model turns, including tool-call
	// rounds. Budgets are configuration: large for open-ended exploration,
	// small for closed-form judgment.
	StepBudget int

	// Tools the model may call during the invocation. Nil disables tool use.
	Tools []Tool
}

// Tool is an operation the reasoning model can call mid-invocation.
//
// The sandbox package adapts workspace operations (exec, read-file) into
// this interface.
type Tool interface {
	// Name uniquely identifies the tool, e.g. "exec_command".
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// InputSchema is the JSON Schema of the tool's parameters.
	InputSchema() map[string]interface{}

	// Call executes the tool.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
