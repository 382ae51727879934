package graph

import "context"

// Node is a processing unit in the workflow graph. It receives the current
// state of type S, performs its work (calling the reasoning agent, the
// sandbox, or plain computation), and returns a NodeResult describing the
// state it changed and where execution goes next.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of one node execution.
//
// Delta carries only the fields the node changed; untouched fields are left
// at their zero value and the reducer decides how deltas fold into the
// current state. Err is reserved for fatal orchestration errors: a node that
// recovers a collaborator failure locally should report it through its own
// state fields and leave Err nil.
type NodeResult[S any] struct {
	// Delta is the partial state update produced by this node.
	Delta S

	// Route specifies the next step in workflow execution.
	Route Next

	// Err aborts the run when non-nil.
	Err error
}

// Next specifies where execution goes after a node completes.
//
// A zero Next defers to edge-based routing: the engine evaluates the node's
// outgoing edges (including fan-out edges) against the merged state.
type Next struct {
	// To routes to a specific node, overriding edge evaluation.
	To string

	// Terminal stops workflow execution.
	Terminal bool
}

// Stop returns a Next that terminates workflow execution.
func Stop() Next {
	return Next{Terminal: true}
}

// Goto returns a Next that routes to the specified node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// NodeFunc adapts a plain function to the Node interface.
//
//	detect := graph.NodeFunc[RunState](func(ctx context.Context, s RunState) graph.NodeResult[RunState] {
//	    return graph.NodeResult[RunState]{Delta: RunState{Topics: topics}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements the Node interface for NodeFunc.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}
