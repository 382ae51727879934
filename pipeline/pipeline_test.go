package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/keplerhq/kepler/agent"
	"github.com/keplerhq/kepler/broadcast"
	"github.com/keplerhq/kepler/graph"
	"github.com/keplerhq/kepler/graph/emit"
	"github.com/keplerhq/kepler/insight"
	"github.com/keplerhq/kepler/persist"
)

func topicsOutput(names ...string) agent.Output {
	topics := make([]insight.Topic, len(names))
	for i, name := range names {
		topics[i] = insight.Topic{Name: name}
	}
	return agent.Output{Topics: &agent.TopicsOutput{Topics: topics}}
}

func itemsOutput(titles ...string) agent.Output {
	items := make([]insight.MetricItem, len(titles))
	for i, title := range titles {
		items[i] = insight.MetricItem{Title: title}
	}
	return agent.Output{Items: &agent.ItemsOutput{Items: items}}
}

func approveAll() agent.Output {
	return agent.Output{Verdict: &agent.VerdictOutput{Approved: true, Reasoning: "measurable"}}
}

func initialState() RunState {
	return RunState{
		RunID:     "run-1",
		ProjectID: "proj-1",
		Repositories: []insight.Repository{
			{Name: "backend", CloneURL: "https://example.com/backend.git"},
		},
	}
}

// TestSequentialAuthPayments runs the full sequential topology: two
// detected topics fan out into two generation branches whose items are
// all reviewed and approved.
func TestSequentialAuthPayments(t *testing.T) {
	mock := &agent.MockAgent{}
	mock.Script(agent.KindTopics, topicsOutput("Auth", "Payments"), nil)
	mock.ScriptFunc(agent.KindItems, func(req agent.Request) (agent.Output, error) {
		switch {
		case strings.Contains(req.Prompt, "Auth"):
			return itemsOutput("Login failures", "Token refresh rate"), nil
		case strings.Contains(req.Prompt, "Payments"):
			return itemsOutput("Charge latency"), nil
		default:
			return itemsOutput(), nil
		}
	})
	mock.Script(agent.KindVerdict, approveAll(), nil)

	store := persist.NewMemStore()
	saver := persist.NewProgressiveSaver(store, nil, persist.ModeBatch, 0)
	nodes := &Nodes{
		Detector: mock, Generator: mock, Reviewer: mock,
		Saver: saver, Bcast: broadcast.NewRegistry(),
		Budgets: DefaultBudgets(),
	}

	engine, err := Build(VariantSequential, nodes, emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	final, err := engine.Run(context.Background(), "run-1", initialState())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(final.Topics) != 2 {
		t.Errorf("expected 2 topics, got %d", len(final.Topics))
	}
	wantItems := []string{"Charge latency", "Login failures", "Token refresh rate"}
	var gotItems []string
	for _, item := range final.GeneratedItems {
		gotItems = append(gotItems, item.Title)
	}
	sort.Strings(gotItems)
	if strings.Join(gotItems, ",") != strings.Join(wantItems, ",") {
		t.Errorf("generated items = %v, want %v", gotItems, wantItems)
	}
	if len(final.Reviews) != 3 {
		t.Errorf("expected 3 reviews, got %d", len(final.Reviews))
	}
	if len(final.ApprovedItems) != 3 {
		t.Errorf("expected 3 approved items, got %d", len(final.ApprovedItems))
	}
	if len(final.Errors) != 0 {
		t.Errorf("unexpected errors: %v", final.Errors)
	}

	// Topic attribution survives the branch override.
	for _, item := range final.GeneratedItems {
		if item.Topic != "Auth" && item.Topic != "Payments" {
			t.Errorf("item %q missing topic attribution: %q", item.Title, item.Topic)
		}
	}

	// Progressive persistence saw every generated batch.
	saver.Wait("run-1")
	saved, err := store.ListItems(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(saved) != 3 {
		t.Errorf("expected 3 items persisted progressively, got %d", len(saved))
	}
}

// TestSequentialBranchPartialSuccess fails the Payments generation
// branch. The Auth branch's items survive and the run completes with a
// recorded error.
func TestSequentialBranchPartialSuccess(t *testing.T) {
	mock := &agent.MockAgent{}
	mock.Script(agent.KindTopics, topicsOutput("Auth", "Payments"), nil)
	mock.ScriptFunc(agent.KindItems, func(req agent.Request) (agent.Output, error) {
		if strings.Contains(req.Prompt, "Payments") {
			return agent.Output{}, errors.New("model refused")
		}
		return itemsOutput("Login failures"), nil
	})
	mock.Script(agent.KindVerdict, approveAll(), nil)

	nodes := &Nodes{
		Detector: mock, Generator: mock, Reviewer: mock,
		Budgets: DefaultBudgets(),
	}
	engine, err := Build(VariantSequential, nodes, emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	final, err := engine.Run(context.Background(), "run-1", initialState())
	if err != nil {
		t.Fatalf("Run must succeed despite branch-local failure: %v", err)
	}

	if len(final.GeneratedItems) != 1 || final.GeneratedItems[0].Title != "Login failures" {
		t.Errorf("expected only the Auth item, got %v", final.GeneratedItems)
	}
	if len(final.Errors) != 1 || !strings.Contains(final.Errors[0], "Payments") {
		t.Errorf("expected one Payments error, got %v", final.Errors)
	}
	if len(final.ApprovedItems) != 1 {
		t.Errorf("expected 1 approved item, got %d", len(final.ApprovedItems))
	}
}

// TestSequentialManyTopics checks one branch per topic and an
// accumulator equal to the sum of contributions, with branches
// finishing in arbitrary order.
func TestSequentialManyTopics(t *testing.T) {
	const topicCount = 6

	names := make([]string, topicCount)
	for i := range names {
		names[i] = fmt.Sprintf("Topic%d", i)
	}

	mock := &agent.MockAgent{}
	mock.Script(agent.KindTopics, topicsOutput(names...), nil)
	mock.ScriptFunc(agent.KindItems, func(req agent.Request) (agent.Output, error) {
		// Later topics finish first.
		for i, name := range names {
			if strings.Contains(req.Prompt, name) {
				time.Sleep(time.Duration(topicCount-i) * time.Millisecond)
				return itemsOutput("item for " + name), nil
			}
		}
		return itemsOutput(), nil
	})
	mock.Script(agent.KindVerdict, approveAll(), nil)

	nodes := &Nodes{Detector: mock, Generator: mock, Reviewer: mock, Budgets: DefaultBudgets()}
	engine, err := Build(VariantSequential, nodes, emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	final, err := engine.Run(context.Background(), "run-1", initialState())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(final.GeneratedItems) != topicCount {
		t.Fatalf("expected %d items, got %d", topicCount, len(final.GeneratedItems))
	}
	seen := map[string]bool{}
	for _, item := range final.GeneratedItems {
		seen[item.Title] = true
	}
	for _, name := range names {
		if !seen["item for "+name] {
			t.Errorf("missing contribution for %s", name)
		}
	}
	if got := len(mock.CallsOfKind(agent.KindItems)); got != topicCount {
		t.Errorf("expected %d generation calls, got %d", topicCount, got)
	}
}

// TestSequentialZeroTopics: an empty detection result skips generation
// and review has nothing to do.
func TestSequentialZeroTopics(t *testing.T) {
	mock := &agent.MockAgent{}
	mock.Script(agent.KindTopics, topicsOutput(), nil)

	nodes := &Nodes{Detector: mock, Generator: mock, Reviewer: mock, Budgets: DefaultBudgets()}
	engine, err := Build(VariantSequential, nodes, emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	final, err := engine.Run(context.Background(), "run-1", initialState())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(final.GeneratedItems) != 0 || len(final.ApprovedItems) != 0 {
		t.Errorf("expected empty result, got %+v", final)
	}
	if got := len(mock.CallsOfKind(agent.KindItems)); got != 0 {
		t.Errorf("generation must not run with zero topics, got %d calls", got)
	}
}

// TestParallelTopology runs the start-level fan-out variant: topic
// detection and holistic generation execute concurrently and merge at
// combine, where every generated item is approved without review.
func TestParallelTopology(t *testing.T) {
	mock := &agent.MockAgent{}
	mock.Script(agent.KindTopics, topicsOutput("Auth"), nil)
	mock.Script(agent.KindItems, itemsOutput("Error rate", "Build time"), nil)

	nodes := &Nodes{Detector: mock, Generator: mock, Reviewer: mock, Budgets: DefaultBudgets()}
	engine, err := Build(VariantParallel, nodes, emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	final, err := engine.Run(context.Background(), "run-1", initialState())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(final.Topics) != 1 {
		t.Errorf("expected detection contribution, got %v", final.Topics)
	}
	if len(final.GeneratedItems) != 2 {
		t.Errorf("expected holistic items, got %v", final.GeneratedItems)
	}
	if len(final.ApprovedItems) != 2 {
		t.Errorf("without reviews all items are approved, got %d", len(final.ApprovedItems))
	}
	if len(mock.CallsOfKind(agent.KindVerdict)) != 0 {
		t.Errorf("parallel variant has no review stage")
	}
}

func TestBuildUnknownVariant(t *testing.T) {
	nodes := &Nodes{Budgets: DefaultBudgets()}
	if _, err := Build("zigzag", nodes, emit.NewNullEmitter()); err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

// TestStepBudgetsReachProvider verifies stage budgets are carried on
// every request rather than baked into node code.
func TestStepBudgetsReachProvider(t *testing.T) {
	mock := &agent.MockAgent{}
	mock.Script(agent.KindTopics, topicsOutput("Auth"), nil)
	mock.Script(agent.KindItems, itemsOutput("Login failures"), nil)
	mock.Script(agent.KindVerdict, approveAll(), nil)

	budgets := Budgets{Detect: 42, Generate: 17, Holistic: 9, Review: 3}
	nodes := &Nodes{Detector: mock, Generator: mock, Reviewer: mock, Budgets: budgets}
	engine, err := Build(VariantSequential, nodes, emit.NewNullEmitter())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := engine.Run(context.Background(), "run-1", initialState()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if calls := mock.CallsOfKind(agent.KindTopics); len(calls) != 1 || calls[0].StepBudget != 42 {
		t.Errorf("detect budget not forwarded: %+v", calls)
	}
	if calls := mock.CallsOfKind(agent.KindItems); len(calls) != 1 || calls[0].StepBudget != 17 {
		t.Errorf("generate budget not forwarded: %+v", calls)
	}
	if calls := mock.CallsOfKind(agent.KindVerdict); len(calls) != 1 || calls[0].StepBudget != 3 {
		t.Errorf("review budget not forwarded: %+v", calls)
	}
}

// slowSaveStore takes a moment per write and refuses cancelled contexts,
// like the SQL-backed stores.
type slowSaveStore struct {
	*persist.MemStore
	delay time.Duration
}

func (s *slowSaveStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
	time.Sleep(s.delay)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.MemStore.SaveItems(ctx, runID, projectID, items)
}

// TestProgressiveSavesSurviveBranchCompletion runs the sequential
// topology with a branch timeout configured. Generation branches end,
// and their contexts with them, before the asynchronous saves reach the
// store; the saves must land anyway.
func TestProgressiveSavesSurviveBranchCompletion(t *testing.T) {
	mock := &agent.MockAgent{}
	mock.Script(agent.KindTopics, topicsOutput("Auth"), nil)
	mock.Script(agent.KindItems, itemsOutput("Login failures"), nil)
	mock.Script(agent.KindVerdict, approveAll(), nil)

	store := &slowSaveStore{MemStore: persist.NewMemStore(), delay: 30 * time.Millisecond}
	saver := persist.NewProgressiveSaver(store, nil, persist.ModeBatch, 0)
	nodes := &Nodes{
		Detector: mock, Generator: mock, Reviewer: mock,
		Saver: saver, Budgets: DefaultBudgets(),
	}

	engine, err := Build(VariantSequential, nodes, emit.NewNullEmitter(),
		graph.WithBranchTimeout(10*time.Minute))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	final, err := engine.Run(context.Background(), "run-1", initialState())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(final.ApprovedItems) != 1 {
		t.Fatalf("expected 1 approved item, got %d", len(final.ApprovedItems))
	}

	saver.Wait("run-1")
	if saver.Saved("run-1") != 1 {
		t.Errorf("expected 1 item saved, got %d", saver.Saved("run-1"))
	}
	items, err := store.ListItems(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 item persisted, got %d", len(items))
	}
}
