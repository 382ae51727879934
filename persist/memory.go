package persist

import (
	"context"
	"sync"
	"time"

	"github.com/keplerhq/kepler/insight"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for testing and development. All data is lost when the
// store is garbage collected. Safe for concurrent use.
type MemStore struct {
	mu    sync.RWMutex
	runs  map[string]insight.Run
	items map[string][]insight.MetricItem
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:  make(map[string]insight.Run),
		items: make(map[string][]insight.MetricItem),
	}
}

// CreateRun implements the Store interface.
func (m *MemStore) CreateRun(ctx context.Context, run insight.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

// GetRun implements the Store interface.
func (m *MemStore) GetRun(ctx context.Context, runID string) (insight.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return insight.Run{}, ErrNotFound
	}
	return run, nil
}

// SaveItems implements the Store interface.
func (m *MemStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[runID] = append(m.items[runID], items...)
	return len(items), nil
}

// ListItems implements the Store interface.
func (m *MemStore) ListItems(ctx context.Context, runID string) ([]insight.MetricItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	saved := m.items[runID]
	out := make([]insight.MetricItem, len(saved))
	copy(out, saved)
	return out, nil
}

// MarkRunStarted implements the Store interface.
func (m *MemStore) MarkRunStarted(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status.CanTransition(insight.StatusRunning) {
		run.Status = insight.StatusRunning
		m.runs[runID] = run
	}
	return nil
}

// MarkRunComplete implements the Store interface.
func (m *MemStore) MarkRunComplete(ctx context.Context, runID string, itemsSaved int) error {
	return m.finish(runID, insight.StatusCompleted, "", itemsSaved)
}

// MarkRunFailed implements the Store interface.
func (m *MemStore) MarkRunFailed(ctx context.Context, runID, reason string) error {
	return m.finish(runID, insight.StatusFailed, reason, 0)
}

func (m *MemStore) finish(runID string, status insight.RunStatus, reason string, itemsSaved int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		// Terminal states absorb later transitions.
		return nil
	}
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	run.Error = reason
	if itemsSaved > 0 {
		run.ItemsSaved = itemsSaved
	}
	m.runs[runID] = run
	return nil
}

// Close implements the Store interface. It is a no-op for MemStore.
func (m *MemStore) Close() error {
	return nil
}
