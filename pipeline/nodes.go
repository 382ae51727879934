package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/keplerhq/kepler/agent"
	"github.com/keplerhq/kepler/broadcast"
	"github.com/keplerhq/kepler/graph"
	"github.com/keplerhq/kepler/insight"
	"github.com/keplerhq/kepler/persist"
	"github.com/keplerhq/kepler/sandbox"
)

// Budgets bounds the reasoning loop of each pipeline stage. Exploration
// stages get room to investigate the codebase; the review verdict is
// closed-form and needs almost none.
type Budgets struct {
	Detect   int
	Generate int
	Holistic int
	Review   int
}

// DefaultBudgets returns the stock stage budgets.
func DefaultBudgets() Budgets {
	return Budgets{Detect: 100, Generate: 50, Holistic: 80, Review: 10}
}

// Nodes builds the workflow's graph nodes around their collaborators.
//
// Reasoning failures are recovered locally: the failing stage
// contributes an Errors entry and an empty result instead of failing
// the run. NodeResult.Err is reserved for orchestration errors.
type Nodes struct {
	Detector  agent.Agent
	Generator agent.Agent
	Reviewer  agent.Agent

	Sandbox sandbox.Client
	Saver   *persist.ProgressiveSaver
	Bcast   *broadcast.Registry

	Budgets Budgets
}

const (
	detectSystem = "You are a software analyst. Explore the repositories in the workspace " +
		"and identify the distinct functional areas (topics) worth measuring. " +
		"Use the provided tools to inspect files and directory structure."

	generateSystem = "You are a software analyst. Propose concrete, queryable metric items " +
		"for the given topic, grounded in what the code actually does. " +
		"Use the provided tools to inspect the repositories."

	holisticSystem = "You are a software analyst. Propose metric items that span the whole " +
		"codebase rather than a single functional area. " +
		"Use the provided tools to inspect the repositories."

	reviewSystem = "You are a metrics reviewer. Judge whether the proposed metric item is " +
		"specific, measurable, and grounded in the codebase. Respond with a verdict only."
)

// Plan is the trivial start node of topologies whose first stage fans
// out. It announces the run and routes through its fan-out edge.
func (n *Nodes) Plan() graph.NodeFunc[RunState] {
	return func(ctx context.Context, s RunState) graph.NodeResult[RunState] {
		n.progress(s, "plan", "run started")
		return graph.NodeResult[RunState]{}
	}
}

// DetectTopics explores the workspace and contributes the topic list.
func (n *Nodes) DetectTopics() graph.NodeFunc[RunState] {
	return func(ctx context.Context, s RunState) graph.NodeResult[RunState] {
		n.progress(s, "detect-topics", "exploring repositories")

		out, err := n.Detector.Invoke(ctx, agent.Request{
			System:     detectSystem,
			Prompt:     describeRepos(s),
			Kind:       agent.KindTopics,
			StepBudget: n.Budgets.Detect,
			Tools:      n.tools(s),
		})
		if err != nil {
			return recovered(s, "detect-topics", err)
		}
		n.progress(s, "detect-topics", fmt.Sprintf("found %d topics", len(out.Topics.Topics)))
		return graph.NodeResult[RunState]{Delta: RunState{Topics: out.Topics.Topics}}
	}
}

// GenerateMetrics produces metric items for the branch's CurrentTopic,
// hands them to the progressive saver, and broadcasts the batch.
func (n *Nodes) GenerateMetrics() graph.NodeFunc[RunState] {
	return func(ctx context.Context, s RunState) graph.NodeResult[RunState] {
		n.progress(s, "generate-metrics", "generating items for "+s.CurrentTopic)

		out, err := n.Generator.Invoke(ctx, agent.Request{
			System:     generateSystem,
			Prompt:     describeRepos(s) + "\n\nTopic: " + s.CurrentTopic,
			Kind:       agent.KindItems,
			StepBudget: n.Budgets.Generate,
			Tools:      n.tools(s),
		})
		if err != nil {
			return recovered(s, "generate-metrics("+s.CurrentTopic+")", err)
		}

		items := n.finishItems(ctx, s, out.Items.Items, s.CurrentTopic)
		return graph.NodeResult[RunState]{Delta: RunState{GeneratedItems: items}}
	}
}

// HolisticGenerate produces metric items for the codebase as a whole.
func (n *Nodes) HolisticGenerate() graph.NodeFunc[RunState] {
	return func(ctx context.Context, s RunState) graph.NodeResult[RunState] {
		n.progress(s, "holistic-generate", "generating cross-cutting items")

		out, err := n.Generator.Invoke(ctx, agent.Request{
			System:     holisticSystem,
			Prompt:     describeRepos(s),
			Kind:       agent.KindItems,
			StepBudget: n.Budgets.Holistic,
			Tools:      n.tools(s),
		})
		if err != nil {
			return recovered(s, "holistic-generate", err)
		}

		items := n.finishItems(ctx, s, out.Items.Items, "")
		return graph.NodeResult[RunState]{Delta: RunState{GeneratedItems: items}}
	}
}

// Review judges every generated item. A failed verdict call excludes
// the item and records an error instead of failing the run.
func (n *Nodes) Review() graph.NodeFunc[RunState] {
	return func(ctx context.Context, s RunState) graph.NodeResult[RunState] {
		n.progress(s, "review", fmt.Sprintf("reviewing %d items", len(s.GeneratedItems)))

		var delta RunState
		for _, item := range s.GeneratedItems {
			out, err := n.Reviewer.Invoke(ctx, agent.Request{
				System:     reviewSystem,
				Prompt:     describeItem(item),
				Kind:       agent.KindVerdict,
				StepBudget: n.Budgets.Review,
			})
			if err != nil {
				delta.Errors = append(delta.Errors, fmt.Sprintf("review(%s): %v", item.Title, err))
				continue
			}
			delta.Reviews = append(delta.Reviews, insight.Review{
				ItemID:    item.ID,
				Approved:  out.Verdict.Approved,
				Reasoning: out.Verdict.Reasoning,
			})
		}
		return graph.NodeResult[RunState]{Delta: delta}
	}
}

// Combine computes the approved set and terminates the workflow.
//
// With reviews present, only items with an approving review survive;
// without any (the parallel topology has no review stage), every
// generated item is approved.
func (n *Nodes) Combine() graph.NodeFunc[RunState] {
	return func(ctx context.Context, s RunState) graph.NodeResult[RunState] {
		approvedBy := make(map[string]bool, len(s.Reviews))
		for _, review := range s.Reviews {
			if review.Approved {
				approvedBy[review.ItemID] = true
			}
		}

		var approved []insight.MetricItem
		for _, item := range s.GeneratedItems {
			if len(s.Reviews) == 0 || approvedBy[item.ID] {
				approved = append(approved, item)
			}
		}

		n.progress(s, "combine", fmt.Sprintf("approved %d of %d items", len(approved), len(s.GeneratedItems)))
		return graph.NodeResult[RunState]{
			Delta: RunState{ApprovedItems: approved},
			Route: graph.Stop(),
		}
	}
}

// finishItems stamps IDs and topic attribution on freshly generated
// items, then forwards them to persistence and broadcast. Both are
// fire-and-forget.
func (n *Nodes) finishItems(ctx context.Context, s RunState, items []insight.MetricItem, topic string) []insight.MetricItem {
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].Topic == "" {
			items[i].Topic = topic
		}
	}
	if len(items) == 0 {
		return items
	}

	if n.Saver != nil {
		n.Saver.Save(ctx, s.RunID, s.ProjectID, items)
	}
	if n.Bcast != nil {
		n.Bcast.Publish(s.RunID, broadcast.Message{
			Type:  broadcast.TypeItemsGenerated,
			Stage: "generate-metrics",
			Items: items,
		})
	}
	return items
}

func (n *Nodes) progress(s RunState, stage, detail string) {
	if n.Bcast == nil {
		return
	}
	n.Bcast.Publish(s.RunID, broadcast.Message{
		Type:   broadcast.TypeProgress,
		Stage:  stage,
		Detail: detail,
	})
}

func (n *Nodes) tools(s RunState) []agent.Tool {
	if n.Sandbox == nil {
		return nil
	}
	return sandbox.Tools(n.Sandbox, s.ProjectID)
}

// recovered converts a reasoning failure into an errors-only delta.
func recovered(s RunState, stage string, err error) graph.NodeResult[RunState] {
	return graph.NodeResult[RunState]{
		Delta: RunState{Errors: []string{fmt.Sprintf("%s: %v", stage, err)}},
	}
}

func describeRepos(s RunState) string {
	var b strings.Builder
	b.WriteString("The workspace contains the following repositories:\n")
	for _, repo := range s.Repositories {
		fmt.Fprintf(&b, "- %s (%s)\n", repo.Name, repo.CloneURL)
	}
	return b.String()
}

func describeItem(item insight.MetricItem) string {
	return fmt.Sprintf("Title: %s\nTopic: %s\nDescription: %s\nQuery: %s",
		item.Title, item.Topic, item.Description, item.Query)
}
