// Package persist stores run records and generated metric items.
//
// The pipeline saves items progressively while a run executes, so storage
// backends must tolerate multiple SaveItems calls per run. Backends include
// in-memory (testing), SQLite (single-process), MySQL (shared), and Redis
// (ephemeral result caching).
package persist

import (
	"context"
	"errors"

	"github.com/keplerhq/kepler/insight"
)

// ErrNotFound is returned when a requested run ID does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistence for runs and their generated metric items.
//
// Implementations must be safe for concurrent use: parallel pipeline
// branches save items for the same run at the same time.
type Store interface {
	// CreateRun records a new run. The run's status is stored as given.
	CreateRun(ctx context.Context, run insight.Run) error

	// GetRun retrieves a run by ID.
	// Returns ErrNotFound if the run does not exist.
	GetRun(ctx context.Context, runID string) (insight.Run, error)

	// SaveItems persists a batch of generated metric items for a run.
	// Returns the number of items written. An empty batch writes nothing
	// and returns zero without error.
	SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error)

	// ListItems retrieves all items saved for a run, in insertion order.
	ListItems(ctx context.Context, runID string) ([]insight.MetricItem, error)

	// MarkRunStarted transitions a pending run to running.
	// Returns ErrNotFound if the run does not exist. A run already
	// past pending is left unchanged.
	MarkRunStarted(ctx context.Context, runID string) error

	// MarkRunComplete transitions a run to completed and records the
	// total item count. Returns ErrNotFound if the run does not exist.
	// A run already in a terminal status is left unchanged.
	MarkRunComplete(ctx context.Context, runID string, itemsSaved int) error

	// MarkRunFailed transitions a run to failed with a reason.
	// Returns ErrNotFound if the run does not exist. A run already in
	// a terminal status is left unchanged.
	MarkRunFailed(ctx context.Context, runID, reason string) error

	// Close releases any resources held by the store.
	Close() error
}
