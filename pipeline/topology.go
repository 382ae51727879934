package pipeline

import (
	"fmt"

	"github.com/keplerhq/kepler/graph"
	"github.com/keplerhq/kepler/graph/emit"
)

// Variant selects a workflow topology. Both variants run on the same
// executor and the same nodes; only the graph wiring differs.
type Variant string

const (
	// VariantSequential runs detect-topics first, fans out one
	// generation branch per detected topic, joins into review, and
	// finishes in combine.
	VariantSequential Variant = "sequential"

	// VariantParallel fans out immediately into topic detection and
	// holistic generation, joining straight into combine. Faster, at
	// the cost of per-topic depth and the review stage.
	VariantParallel Variant = "parallel"
)

// Build wires a topology variant into a ready-to-run engine.
func Build(variant Variant, nodes *Nodes, emitter emit.Emitter, options ...graph.Option) (*graph.Engine[RunState], error) {
	switch variant {
	case VariantSequential, "":
		return buildSequential(nodes, emitter, options...)
	case VariantParallel:
		return buildParallel(nodes, emitter, options...)
	default:
		return nil, fmt.Errorf("unknown topology variant: %q", variant)
	}
}

func buildSequential(nodes *Nodes, emitter emit.Emitter, options ...graph.Option) (*graph.Engine[RunState], error) {
	engine := graph.New(Reduce, emitter, options...)

	add := map[string]graph.Node[RunState]{
		"detect-topics":    nodes.DetectTopics(),
		"generate-metrics": nodes.GenerateMetrics(),
		"review":           nodes.Review(),
		"combine":          nodes.Combine(),
	}
	for id, node := range add {
		if err := engine.Add(id, node); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt("detect-topics"); err != nil {
		return nil, err
	}

	// One generation branch per detected topic. Zero topics skip
	// straight to the join.
	err := engine.ConnectFanOut("detect-topics", "review", func(s RunState) []graph.Branch[RunState] {
		branches := make([]graph.Branch[RunState], 0, len(s.Topics))
		for _, topic := range s.Topics {
			topic := topic
			branches = append(branches, graph.Branch[RunState]{
				To: "generate-metrics",
				Override: func(local RunState) RunState {
					local.CurrentTopic = topic.Name
					return local
				},
			})
		}
		return branches
	})
	if err != nil {
		return nil, err
	}

	if err := engine.Connect("generate-metrics", "review", nil); err != nil {
		return nil, err
	}
	if err := engine.Connect("review", "combine", nil); err != nil {
		return nil, err
	}
	return engine, nil
}

func buildParallel(nodes *Nodes, emitter emit.Emitter, options ...graph.Option) (*graph.Engine[RunState], error) {
	engine := graph.New(Reduce, emitter, options...)

	add := map[string]graph.Node[RunState]{
		"plan":              nodes.Plan(),
		"detect-topics":     nodes.DetectTopics(),
		"holistic-generate": nodes.HolisticGenerate(),
		"combine":           nodes.Combine(),
	}
	for id, node := range add {
		if err := engine.Add(id, node); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt("plan"); err != nil {
		return nil, err
	}

	err := engine.ConnectFanOut("plan", "combine", func(s RunState) []graph.Branch[RunState] {
		return []graph.Branch[RunState]{
			{To: "detect-topics"},
			{To: "holistic-generate"},
		}
	})
	if err != nil {
		return nil, err
	}

	if err := engine.Connect("detect-topics", "combine", nil); err != nil {
		return nil, err
	}
	if err := engine.Connect("holistic-generate", "combine", nil); err != nil {
		return nil, err
	}
	return engine, nil
}
