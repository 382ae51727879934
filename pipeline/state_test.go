package pipeline

import (
	"reflect"
	"testing"

	"github.com/keplerhq/kepler/insight"
)

func TestReduceAppendsAccumulators(t *testing.T) {
	prev := RunState{
		RunID:  "run-1",
		Topics: []insight.Topic{{Name: "Auth"}},
		Errors: []string{"first"},
	}
	delta := RunState{
		Topics:         []insight.Topic{{Name: "Payments"}},
		GeneratedItems: []insight.MetricItem{{ID: "i1"}},
		Errors:         []string{"second"},
	}

	got := Reduce(prev, delta)

	if len(got.Topics) != 2 || got.Topics[1].Name != "Payments" {
		t.Errorf("topics not appended: %v", got.Topics)
	}
	if len(got.GeneratedItems) != 1 {
		t.Errorf("items not appended: %v", got.GeneratedItems)
	}
	if !reflect.DeepEqual(got.Errors, []string{"first", "second"}) {
		t.Errorf("errors not appended: %v", got.Errors)
	}
	if got.RunID != "run-1" {
		t.Errorf("zero delta scalar must not clear RunID, got %q", got.RunID)
	}
}

func TestReduceScalarOverwrite(t *testing.T) {
	prev := RunState{RunID: "run-1", CurrentTopic: "Auth"}
	delta := RunState{CurrentTopic: "Payments"}

	got := Reduce(prev, delta)
	if got.CurrentTopic != "Payments" {
		t.Errorf("non-zero delta scalar must overwrite, got %q", got.CurrentTopic)
	}

	got = Reduce(got, RunState{})
	if got.CurrentTopic != "Payments" {
		t.Errorf("zero delta scalar must keep previous value, got %q", got.CurrentTopic)
	}
}

func TestReduceOrderIndependentMultiset(t *testing.T) {
	base := RunState{RunID: "run-1"}
	deltas := []RunState{
		{GeneratedItems: []insight.MetricItem{{ID: "a"}, {ID: "b"}}},
		{GeneratedItems: []insight.MetricItem{{ID: "c"}}},
		{Errors: []string{"generate-metrics(Billing): model refused"}},
	}

	forward := base
	for _, d := range deltas {
		forward = Reduce(forward, d)
	}
	backward := base
	for i := len(deltas) - 1; i >= 0; i-- {
		backward = Reduce(backward, deltas[i])
	}

	count := func(s RunState) map[string]int {
		m := map[string]int{}
		for _, item := range s.GeneratedItems {
			m[item.ID]++
		}
		return m
	}
	if !reflect.DeepEqual(count(forward), count(backward)) {
		t.Errorf("item multiset depends on merge order: %v vs %v",
			count(forward), count(backward))
	}
	if len(forward.Errors) != len(backward.Errors) {
		t.Errorf("error count depends on merge order")
	}
}
