package graph

import "time"

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := graph.New(reducer, emitter,
//	    graph.WithMaxSteps(50),
//	    graph.WithMaxConcurrent(8),
//	    graph.WithBranchTimeout(2*time.Minute),
//	)
type Option func(*engineConfig)

// engineConfig collects options before they are applied to an Engine.
type engineConfig struct {
	opts    Options
	metrics *Metrics
}

// Options configures Engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits sequential workflow steps to prevent infinite loops.
	// Branch-internal steps count toward the branch, not the run. 0 = no limit.
	MaxSteps int

	// MaxConcurrent bounds how many branches of one fan-out stage execute
	// simultaneously. 0 = all branches start at once.
	MaxConcurrent int

	// BranchTimeout bounds the wall-clock time of a single branch.
	// A branch exceeding it fails the run. 0 = no timeout.
	BranchTimeout time.Duration
}

// WithMaxSteps limits workflow execution to n sequential steps.
//
// Use it to guard against a routing cycle with a missing exit condition.
// When exceeded, Run returns an EngineError with code MAX_STEPS_EXCEEDED.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) {
		cfg.opts.MaxSteps = n
	}
}

// WithMaxConcurrent bounds concurrent branch execution within a fan-out
// stage. Useful when branches call rate-limited external services.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) {
		cfg.opts.MaxConcurrent = n
	}
}

// WithBranchTimeout sets a wall-clock budget per branch. The branch's
// context is cancelled when the budget elapses and the run fails with
// code BRANCH_FAILED.
func WithBranchTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) {
		cfg.opts.BranchTimeout = d
	}
}

// WithMetrics attaches Prometheus metrics collection to the engine.
func WithMetrics(m *Metrics) Option {
	return func(cfg *engineConfig) {
		cfg.metrics = m
	}
}
