package agent

import (
	"context"
	"sync"
)

// MockAgent is a test implementation of Agent.
//
// It returns scripted outputs keyed by OutputKind, optionally varying by
// invocation, and records every call for assertions. Safe for concurrent
// use, which matters because fan-out branches invoke the agent in parallel.
//
// Example:
//
//	mock := &MockAgent{}
//	mock.Script(KindTopics, Output{Topics: &TopicsOutput{Topics: topics}}, nil)
//	mock.ScriptFunc(KindItems, func(req Request) (Output, error) {
//	    return itemsFor(req.Prompt), nil
//	})
type MockAgent struct {
	mu      sync.Mutex
	scripts map[OutputKind]func(Request) (Output, error)

	// Calls records every Invoke request in order.
	Calls []Request
}

// Script configures a fixed response for all invocations with the given kind.
func (m *MockAgent) Script(kind OutputKind, out Output, err error) {
	m.ScriptFunc(kind, func(Request) (Output, error) {
		return out, err
	})
}

// ScriptFunc configures a per-request response for the given kind.
func (m *MockAgent) ScriptFunc(kind OutputKind, fn func(Request) (Output, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scripts == nil {
		m.scripts = make(map[OutputKind]func(Request) (Output, error))
	}
	m.scripts[kind] = fn
}

// Invoke implements the Agent interface.
func (m *MockAgent) Invoke(ctx context.Context, req Request) (Output, error) {
	if ctx.Err() != nil {
		return Output{}, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.scripts[req.Kind]
	m.mu.Unlock()

	if fn == nil {
		return emptyOutput(req.Kind), nil
	}
	return fn(req)
}

// emptyOutput satisfies the Agent contract for unscripted kinds: a
// successful Invoke always carries the variant matching the request.
func emptyOutput(kind OutputKind) Output {
	switch kind {
	case KindTopics:
		return Output{Topics: &TopicsOutput{}}
	case KindItems:
		return Output{Items: &ItemsOutput{}}
	case KindVerdict:
		return Output{Verdict: &VerdictOutput{}}
	default:
		return Output{}
	}
}

// CallsOfKind returns the recorded requests matching kind.
func (m *MockAgent) CallsOfKind(kind OutputKind) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Request
	for _, call := range m.Calls {
		if call.Kind == kind {
			matched = append(matched, call)
		}
	}
	return matched
}
