// Package pipeline defines the insight workflow: its state, reducer,
// nodes, and graph topologies.
package pipeline

import (
	"github.com/keplerhq/kepler/insight"
)

// RunState is the workflow state threaded through the graph engine.
//
// Accumulator fields (Topics, GeneratedItems, Reviews, ApprovedItems,
// Errors) only ever grow; parallel branches contribute to them through
// Reduce. Scalar fields identify the run and are written once, except
// CurrentTopic which each generation branch overrides for itself.
type RunState struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`

	// Repositories are the repos acquired into the workspace.
	Repositories []insight.Repository `json:"repositories,omitempty"`

	// Credential is passed to the sandbox for private repos.
	Credential string `json:"credential,omitempty"`

	// CurrentTopic scopes a generation branch to one topic.
	CurrentTopic string `json:"current_topic,omitempty"`

	Topics         []insight.Topic      `json:"topics,omitempty"`
	GeneratedItems []insight.MetricItem `json:"generated_items,omitempty"`
	Reviews        []insight.Review     `json:"reviews,omitempty"`
	ApprovedItems  []insight.MetricItem `json:"approved_items,omitempty"`

	// Errors accumulates recovered per-stage failures. A non-empty list
	// with a completed run means partial success.
	Errors []string `json:"errors,omitempty"`
}

// Reduce merges a node's delta into the previous state.
//
// Accumulators append; scalars are overwritten only when the delta
// carries a non-zero value. Appending makes the merge associative and
// independent of branch completion order, which the engine's join
// relies on.
func Reduce(prev, delta RunState) RunState {
	next := prev

	if delta.RunID != "" {
		next.RunID = delta.RunID
	}
	if delta.ProjectID != "" {
		next.ProjectID = delta.ProjectID
	}
	if delta.Credential != "" {
		next.Credential = delta.Credential
	}
	if delta.CurrentTopic != "" {
		next.CurrentTopic = delta.CurrentTopic
	}
	if len(delta.Repositories) > 0 {
		next.Repositories = delta.Repositories
	}

	next.Topics = append(next.Topics, delta.Topics...)
	next.GeneratedItems = append(next.GeneratedItems, delta.GeneratedItems...)
	next.Reviews = append(next.Reviews, delta.Reviews...)
	next.ApprovedItems = append(next.ApprovedItems, delta.ApprovedItems...)
	next.Errors = append(next.Errors, delta.Errors...)

	return next
}
