// Package graph provides the workflow execution engine for Kepler pipelines.
package graph

// Edge is a static connection between two nodes in the workflow graph.
//
// Edges can be unconditional (When = nil, always traverse) or conditional
// (traverse only when the predicate returns true for the current state).
// Explicit routing via NodeResult.Route takes precedence over edges.
//
// Type parameter S is the state type used for predicate evaluation.
type Edge[S any] struct {
	// From is the source node ID.
	From string

	// To is the destination node ID.
	To string

	// When is an optional traversal predicate. Nil means unconditional.
	When Predicate[S]
}

// Predicate evaluates state to decide whether an edge should be traversed.
// Predicates should be pure functions with no side effects.
type Predicate[S any] func(state S) bool

// FanOutEdge declares a dynamic scatter-gather stage in the graph.
//
// When execution reaches From, the engine calls Spawn with the current state
// to obtain the branches for this stage. Every branch starts concurrently on
// a deep copy of the state, runs its node chain until it would enter Join,
// and the engine merges all branch contributions through the reducer before
// executing Join exactly once.
//
// The branch list is data, not topology baked into the executor: a fan-out
// may originate at the graph's start node or at any interior node, and the
// number of branches may depend entirely on state computed at runtime.
type FanOutEdge[S any] struct {
	// From is the node whose completion triggers the fan-out.
	From string

	// Join is the barrier node executed once after every branch finishes.
	Join string

	// Spawn derives the branch invocations from the current state.
	// Returning an empty slice skips directly to Join.
	Spawn Spawner[S]
}

// Spawner derives the dynamic branch list for a fan-out stage.
type Spawner[S any] func(state S) []Branch[S]

// Branch is one concurrent invocation spawned by a fan-out edge.
type Branch[S any] struct {
	// To is the first node the branch executes.
	To string

	// Override adjusts the branch's private copy of the state before the
	// branch starts, e.g. setting the topic this branch is responsible for.
	// Nil means the branch runs on an unmodified copy.
	Override func(S) S
}
