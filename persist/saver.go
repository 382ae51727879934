package persist

import (
	"context"
	"sync"
	"time"

	"github.com/keplerhq/kepler/graph/emit"
	"github.com/keplerhq/kepler/insight"
)

// SaveMode controls how ProgressiveSaver writes a batch of items.
type SaveMode string

const (
	// ModeBatch writes each batch with a single SaveItems call.
	ModeBatch SaveMode = "batch"

	// ModePerItem writes items one at a time with an optional pacing
	// delay between writes. Useful when downstream consumers stream
	// items as they appear.
	ModePerItem SaveMode = "per_item"
)

// ProgressiveSaver persists generated metric items while a run is still
// executing.
//
// Saves are fire-and-forget: the pipeline hands off a batch and continues
// without waiting. Persistence failures are reported through the emitter
// and never fail the run. Accounting is per run: call Wait before
// finalizing a run to make sure its handed-off batches have settled, and
// Forget after finalizing to release the run's bookkeeping.
type ProgressiveSaver struct {
	store   Store
	emitter emit.Emitter
	mode    SaveMode
	pace    time.Duration

	mu   sync.Mutex
	runs map[string]*runSaves
}

// runSaves tracks one run's in-flight batches and write count.
type runSaves struct {
	wg    sync.WaitGroup
	saved int
}

// NewProgressiveSaver creates a saver over the given store. The emitter
// receives a save event per batch and an error event per failed write.
// A zero pace disables pacing in per-item mode.
func NewProgressiveSaver(store Store, emitter emit.Emitter, mode SaveMode, pace time.Duration) *ProgressiveSaver {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	if mode != ModePerItem {
		mode = ModeBatch
	}
	return &ProgressiveSaver{
		store:   store,
		emitter: emitter,
		mode:    mode,
		pace:    pace,
		runs:    make(map[string]*runSaves),
	}
}

// Save hands off a batch of items for asynchronous persistence and returns
// immediately. An empty batch is a no-op.
func (s *ProgressiveSaver) Save(ctx context.Context, runID, projectID string, items []insight.MetricItem) {
	if len(items) == 0 {
		return
	}
	batch := make([]insight.MetricItem, len(items))
	copy(batch, items)

	// The handing-off caller's context can end as soon as its node or
	// branch completes; a handed-off batch must still settle.
	ctx = context.WithoutCancel(ctx)

	rs := s.run(runID)
	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		written := s.save(ctx, runID, projectID, batch)
		s.mu.Lock()
		rs.saved += written
		s.mu.Unlock()
	}()
}

func (s *ProgressiveSaver) run(runID string) *runSaves {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.runs[runID]
	if !ok {
		rs = &runSaves{}
		s.runs[runID] = rs
	}
	return rs
}

func (s *ProgressiveSaver) save(ctx context.Context, runID, projectID string, items []insight.MetricItem) int {
	var written int
	var err error

	switch s.mode {
	case ModePerItem:
		for i := range items {
			if i > 0 && s.pace > 0 {
				select {
				case <-time.After(s.pace):
				case <-ctx.Done():
					err = ctx.Err()
				}
				if err != nil {
					break
				}
			}
			var n int
			n, err = s.store.SaveItems(ctx, runID, projectID, items[i:i+1])
			written += n
			if err != nil {
				break
			}
		}
	default:
		written, err = s.store.SaveItems(ctx, runID, projectID, items)
	}

	if err != nil {
		s.emitter.Emit(emit.Event{
			RunID: runID,
			Msg:   "items_save_failed",
			Meta:  map[string]interface{}{"error": err.Error(), "written": written, "total": len(items)},
		})
		return written
	}
	s.emitter.Emit(emit.Event{
		RunID: runID,
		Msg:   "items_saved",
		Meta:  map[string]interface{}{"count": written},
	})
	return written
}

// Wait blocks until every batch handed off for the run has settled.
// Batches handed off for other runs do not delay it.
func (s *ProgressiveSaver) Wait(runID string) {
	s.mu.Lock()
	rs := s.runs[runID]
	s.mu.Unlock()
	if rs != nil {
		rs.wg.Wait()
	}
}

// Saved returns the number of items successfully written for a run so far.
func (s *ProgressiveSaver) Saved(runID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs := s.runs[runID]; rs != nil {
		return rs.saved
	}
	return 0
}

// Forget releases a finalized run's bookkeeping. Saved returns zero for
// the run afterwards.
func (s *ProgressiveSaver) Forget(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// Drain blocks until every batch handed off so far, for any run, has
// settled. Used at shutdown.
func (s *ProgressiveSaver) Drain() {
	s.mu.Lock()
	pending := make([]*runSaves, 0, len(s.runs))
	for _, rs := range s.runs {
		pending = append(pending, rs)
	}
	s.mu.Unlock()
	for _, rs := range pending {
		rs.wg.Wait()
	}
}
