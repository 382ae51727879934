package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keplerhq/kepler/graph/emit"
)

// Reducer merges a partial state update (delta) into the previous state.
//
// The reducer is the only place state mutation happens: the engine applies
// it after every node and when folding branch contributions at a join
// barrier. For accumulator fields the merge must be associative and
// independent of branch completion order (append/concat); scalar fields are
// written by exactly one owning node per merge point and are not merged.
type Reducer[S any] func(prev, delta S) S

// Engine executes a workflow graph against a shared state of type S.
//
// The engine:
//   - Runs nodes sequentially, following explicit routes or edges
//   - Expands fan-out edges into concurrent branches, each on a deep copy
//     of the state, and applies a join barrier before the join node
//   - Merges every state change through the reducer
//   - Emits observability events and optional Prometheus metrics
//
// Topology is data: all nodes, edges, and fan-out stages are registered up
// front, so different pipeline shapes run on an unchanged engine.
//
// Example:
//
//	engine := graph.New(pipeline.Reduce, emit.NewLogEmitter(os.Stdout, false))
//	engine.Add("detect", detectNode)
//	engine.Add("generate", generateNode)
//	engine.Add("combine", combineNode)
//	engine.ConnectFanOut("detect", "combine", spawnPerTopic)
//	engine.StartAt("detect")
//	final, err := engine.Run(ctx, "run-001", initial)
type Engine[S any] struct {
	mu sync.RWMutex

	reducer   Reducer[S]
	nodes     map[string]Node[S]
	edges     []Edge[S]
	fanOuts   []FanOutEdge[S]
	startNode string

	emitter emit.Emitter
	metrics *Metrics
	opts    Options
}

// New creates an Engine with the given reducer and emitter.
//
// The reducer is required; a nil emitter falls back to a NullEmitter.
// Configuration is supplied through functional options. Validation of the
// graph itself happens when Run is called.
func New[S any](reducer Reducer[S], emitter emit.Emitter, options ...Option) *Engine[S] {
	cfg := engineConfig{}
	for _, opt := range options {
		opt(&cfg)
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Engine[S]{
		reducer: reducer,
		nodes:   make(map[string]Node[S]),
		emitter: emitter,
		metrics: cfg.metrics,
		opts:    cfg.opts,
	}
}

// Add registers a node in the workflow graph. Node IDs must be unique.
func (e *Engine[S]) Add(nodeID string, node Node[S]) error {
	if nodeID == "" {
		return &EngineError{Message: "node ID cannot be empty"}
	}
	if node == nil {
		return &EngineError{Message: "node cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; exists {
		return &EngineError{
			Message: "duplicate node ID: " + nodeID,
			Code:    CodeDuplicateNode,
		}
	}

	e.nodes[nodeID] = node
	return nil
}

// StartAt sets the entry point for workflow execution. The node must have
// been registered via Add.
func (e *Engine[S]) StartAt(nodeID string) error {
	if nodeID == "" {
		return &EngineError{Message: "start node ID cannot be empty", Code: CodeNoStartNode}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.nodes[nodeID]; !exists {
		return &EngineError{
			Message: "start node does not exist: " + nodeID,
			Code:    CodeNodeNotFound,
		}
	}

	e.startNode = nodeID
	return nil
}

// Connect creates a static edge between two nodes. A nil predicate makes
// the edge unconditional. Explicit NodeResult.Route takes precedence over
// edges at runtime.
func (e *Engine[S]) Connect(from, to string, predicate Predicate[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if to == "" {
		return &EngineError{Message: "to node ID cannot be empty"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.edges = append(e.edges, Edge[S]{From: from, To: to, When: predicate})
	return nil
}

// ConnectFanOut declares a fan-out stage: when execution leaves from, spawn
// is evaluated against the current state and every returned branch runs
// concurrently; join executes once after all branches finish.
//
// A node may own at most one fan-out edge. Fan-out takes precedence over
// static edges from the same node.
func (e *Engine[S]) ConnectFanOut(from, join string, spawn Spawner[S]) error {
	if from == "" {
		return &EngineError{Message: "from node ID cannot be empty"}
	}
	if join == "" {
		return &EngineError{Message: "join node ID cannot be empty"}
	}
	if spawn == nil {
		return &EngineError{Message: "spawner cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, fo := range e.fanOuts {
		if fo.From == from {
			return &EngineError{
				Message: "duplicate fan-out from node: " + from,
				Code:    CodeDuplicateNode,
			}
		}
	}

	e.fanOuts = append(e.fanOuts, FanOutEdge[S]{From: from, Join: join, Spawn: spawn})
	return nil
}

// Run executes the workflow from the start node until a terminal route or a
// fatal error, returning the final merged state.
//
// A branch failure (node returning Err, branch timeout) is fatal to the
// run; collaborator failures that nodes recover locally never surface here.
func (e *Engine[S]) Run(ctx context.Context, runID string, initial S) (S, error) {
	var zero S

	if e.reducer == nil {
		return zero, &EngineError{Message: "reducer is required", Code: CodeMissingReducer}
	}

	e.mu.RLock()
	start := e.startNode
	_, startExists := e.nodes[start]
	e.mu.RUnlock()

	if start == "" {
		return zero, &EngineError{
			Message: "start node not set (call StartAt before Run)",
			Code:    CodeNoStartNode,
		}
	}
	if !startExists {
		return zero, &EngineError{
			Message: "start node does not exist: " + start,
			Code:    CodeNodeNotFound,
		}
	}

	currentState := initial
	currentNode := start
	step := 0

	for {
		step++

		if e.opts.MaxSteps > 0 && step > e.opts.MaxSteps {
			return zero, &EngineError{
				Message: "workflow exceeded MaxSteps limit",
				Code:    CodeMaxStepsExceeded,
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		result, err := e.executeNode(ctx, runID, step, currentNode, "", currentState)
		if err != nil {
			return zero, err
		}
		if result.Err != nil {
			e.emitter.Emit(emit.Event{
				RunID: runID, Step: step, NodeID: currentNode,
				Msg:  emit.EventRunError,
				Meta: map[string]interface{}{"error": result.Err.Error()},
			})
			return zero, result.Err
		}

		currentState = e.reducer(currentState, result.Delta)

		if result.Route.Terminal {
			e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: currentNode, Msg: emit.EventRunEnd})
			return currentState, nil
		}

		if result.Route.To != "" {
			currentNode = result.Route.To
			continue
		}

		// Edge-based routing: fan-out stages take precedence.
		if fo, ok := e.fanOutFrom(currentNode); ok {
			merged, err := e.runFanOut(ctx, runID, step, fo, currentState)
			if err != nil {
				return zero, err
			}
			currentState = merged
			currentNode = fo.Join
			continue
		}

		nextNode := e.evaluateEdges(currentNode, currentState)
		if nextNode == "" {
			return zero, &EngineError{
				Message: "no valid route from node: " + currentNode,
				Code:    CodeNoRoute,
			}
		}
		currentNode = nextNode
	}
}

// executeNode runs a single node and records metrics and events for it.
func (e *Engine[S]) executeNode(ctx context.Context, runID string, step int, nodeID, branch string, state S) (NodeResult[S], error) {
	e.mu.RLock()
	nodeImpl, exists := e.nodes[nodeID]
	e.mu.RUnlock()

	if !exists {
		return NodeResult[S]{}, &EngineError{
			Message: "node not found during execution: " + nodeID,
			Code:    CodeNodeNotFound,
		}
	}

	e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Branch: branch, Msg: emit.EventNodeStart})

	started := time.Now()
	result := nodeImpl.Run(ctx, state)
	e.metrics.nodeObserved(nodeID, time.Since(started), result.Err)

	meta := map[string]interface{}{"duration_ms": time.Since(started).Milliseconds()}
	if result.Err != nil {
		meta["error"] = result.Err.Error()
	}
	e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Branch: branch, Msg: emit.EventNodeEnd, Meta: meta})

	return result, nil
}

type branchOutcome[S any] struct {
	branch       string
	contribution S
	err          error
}

// runFanOut evaluates the spawner, executes every branch concurrently on a
// deep copy of the state, waits for all of them (join barrier), and folds
// the contributions into the current state through the reducer.
//
// Contributions are merged in spawn order. The reducer contract makes the
// result independent of completion order regardless.
func (e *Engine[S]) runFanOut(ctx context.Context, runID string, step int, fo FanOutEdge[S], state S) (S, error) {
	var zero S

	branches := fo.Spawn(state)
	e.emitter.Emit(emit.Event{
		RunID: runID, Step: step, NodeID: fo.From, Msg: emit.EventBranchSpawn,
		Meta: map[string]interface{}{"branches": len(branches), "join": fo.Join},
	})

	if len(branches) == 0 {
		e.metrics.joinCompleted(fo.Join)
		return state, nil
	}

	outcomes := make([]branchOutcome[S], len(branches))
	var sem chan struct{}
	if e.opts.MaxConcurrent > 0 {
		sem = make(chan struct{}, e.opts.MaxConcurrent)
	}

	var wg sync.WaitGroup
	for i, br := range branches {
		wg.Add(1)
		go func(idx int, br Branch[S]) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			branchID := fmt.Sprintf("%s#%d", br.To, idx)
			e.metrics.branchStarted()
			contribution, err := e.runBranch(ctx, runID, step, branchID, fo.Join, br, state)
			e.metrics.branchFinished(err != nil)
			outcomes[idx] = branchOutcome[S]{branch: branchID, contribution: contribution, err: err}
		}(i, br)
	}
	wg.Wait()

	merged := state
	for _, out := range outcomes {
		if out.err != nil {
			return zero, &EngineError{
				Message: "branch " + out.branch + " failed: " + out.err.Error(),
				Code:    CodeBranchFailed,
			}
		}
		merged = e.reducer(merged, out.contribution)
	}

	e.metrics.joinCompleted(fo.Join)
	e.emitter.Emit(emit.Event{
		RunID: runID, Step: step, NodeID: fo.Join, Msg: emit.EventJoin,
		Meta: map[string]interface{}{"branches": len(branches)},
	})
	return merged, nil
}

// runBranch executes one branch's node chain on a private copy of the state
// until it would enter the join node or returns a terminal route. It returns
// the branch's contribution: the reducer-fold of every delta the branch
// produced, starting from the zero state.
func (e *Engine[S]) runBranch(ctx context.Context, runID string, step int, branchID, join string, br Branch[S], state S) (S, error) {
	var contribution S

	local, err := deepCopy(state)
	if err != nil {
		return contribution, &EngineError{
			Message: "failed to copy state for branch: " + err.Error(),
			Code:    CodeStateCopyFailed,
		}
	}
	if br.Override != nil {
		local = br.Override(local)
	}

	branchCtx := ctx
	if e.opts.BranchTimeout > 0 {
		var cancel context.CancelFunc
		branchCtx, cancel = context.WithTimeout(ctx, e.opts.BranchTimeout)
		defer cancel()
	}

	currentNode := br.To
	for {
		if err := branchCtx.Err(); err != nil {
			return contribution, err
		}

		result, err := e.executeNode(branchCtx, runID, step, currentNode, branchID, local)
		if err != nil {
			return contribution, err
		}
		if result.Err != nil {
			return contribution, result.Err
		}

		local = e.reducer(local, result.Delta)
		contribution = e.reducer(contribution, result.Delta)

		next := ""
		switch {
		case result.Route.Terminal:
			e.emitBranchEnd(runID, step, branchID, currentNode)
			return contribution, nil
		case result.Route.To != "":
			next = result.Route.To
		default:
			next = e.evaluateEdges(currentNode, local)
		}

		if next == join {
			e.emitBranchEnd(runID, step, branchID, currentNode)
			return contribution, nil
		}
		if next == "" {
			return contribution, &EngineError{
				Message: "no valid route from node: " + currentNode,
				Code:    CodeNoRoute,
			}
		}
		currentNode = next
	}
}

func (e *Engine[S]) emitBranchEnd(runID string, step int, branchID, nodeID string) {
	e.emitter.Emit(emit.Event{RunID: runID, Step: step, NodeID: nodeID, Branch: branchID, Msg: emit.EventBranchEnd})
}

func (e *Engine[S]) fanOutFrom(nodeID string) (FanOutEdge[S], bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, fo := range e.fanOuts {
		if fo.From == nodeID {
			return fo, true
		}
	}
	return FanOutEdge[S]{}, false
}

// evaluateEdges finds the first matching static edge from the given node.
// Unconditional edges always match; first match wins.
func (e *Engine[S]) evaluateEdges(fromNode string, state S) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, edge := range e.edges {
		if edge.From != fromNode {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To
		}
	}
	return ""
}
