package graph

// EngineError represents an error from Engine configuration or execution.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Error codes returned by the engine.
const (
	CodeDuplicateNode    = "DUPLICATE_NODE"
	CodeNodeNotFound     = "NODE_NOT_FOUND"
	CodeNoStartNode      = "NO_START_NODE"
	CodeMissingReducer   = "MISSING_REDUCER"
	CodeNoRoute          = "NO_ROUTE"
	CodeMaxStepsExceeded = "MAX_STEPS_EXCEEDED"
	CodeBranchFailed     = "BRANCH_FAILED"
	CodeStateCopyFailed  = "STATE_COPY_FAILED"
)
