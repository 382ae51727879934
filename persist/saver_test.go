package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keplerhq/kepler/insight"
)

// failStore fails SaveItems after a configurable number of successful calls.
type failStore struct {
	*MemStore
	mu        sync.Mutex
	succeedN  int
	saveCalls int
}

func (f *failStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
	f.mu.Lock()
	f.saveCalls++
	call := f.saveCalls
	f.mu.Unlock()
	if call > f.succeedN {
		return 0, errors.New("disk full")
	}
	return f.MemStore.SaveItems(ctx, runID, projectID, items)
}

func testItems(n int) []insight.MetricItem {
	items := make([]insight.MetricItem, n)
	for i := range items {
		items[i] = insight.MetricItem{ID: string(rune('a' + i)), Topic: "Auth", Title: "item"}
	}
	return items
}

func TestSaverBatchMode(t *testing.T) {
	store := NewMemStore()
	saver := NewProgressiveSaver(store, nil, ModeBatch, 0)

	saver.Save(context.Background(), "run-1", "proj-1", testItems(3))
	saver.Wait("run-1")

	items, err := store.ListItems(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items persisted, got %d", len(items))
	}
	if saver.Saved("run-1") != 3 {
		t.Errorf("expected Saved = 3, got %d", saver.Saved("run-1"))
	}
}

func TestSaverPerItemMode(t *testing.T) {
	store := NewMemStore()
	saver := NewProgressiveSaver(store, nil, ModePerItem, time.Millisecond)

	saver.Save(context.Background(), "run-1", "proj-1", testItems(4))
	saver.Wait("run-1")

	items, err := store.ListItems(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 4 {
		t.Errorf("expected 4 items persisted, got %d", len(items))
	}
}

func TestSaverEmptyBatchIsNoOp(t *testing.T) {
	store := NewMemStore()
	saver := NewProgressiveSaver(store, nil, ModeBatch, 0)

	saver.Save(context.Background(), "run-1", "proj-1", nil)
	saver.Wait("run-1")

	if saver.Saved("run-1") != 0 {
		t.Errorf("expected nothing saved, got %d", saver.Saved("run-1"))
	}
}

func TestSaverFailureDoesNotPropagate(t *testing.T) {
	store := &failStore{MemStore: NewMemStore(), succeedN: 0}
	saver := NewProgressiveSaver(store, nil, ModeBatch, 0)

	// Save must return without error even though the backend fails.
	saver.Save(context.Background(), "run-1", "proj-1", testItems(2))
	saver.Wait("run-1")

	if saver.Saved("run-1") != 0 {
		t.Errorf("expected 0 saved after backend failure, got %d", saver.Saved("run-1"))
	}
}

func TestSaverPartialFailureCountsWrites(t *testing.T) {
	store := &failStore{MemStore: NewMemStore(), succeedN: 2}
	saver := NewProgressiveSaver(store, nil, ModePerItem, 0)

	saver.Save(context.Background(), "run-1", "proj-1", testItems(5))
	saver.Wait("run-1")

	if saver.Saved("run-1") != 2 {
		t.Errorf("expected 2 saved before failure, got %d", saver.Saved("run-1"))
	}
}

// ctxCheckStore simulates a context-aware backend: it takes a moment per
// write and refuses cancelled contexts, the way the SQL stores do.
type ctxCheckStore struct {
	*MemStore
	delay time.Duration
}

func (c *ctxCheckStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
	time.Sleep(c.delay)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.MemStore.SaveItems(ctx, runID, projectID, items)
}

func TestSaverOutlivesCallerContext(t *testing.T) {
	store := &ctxCheckStore{MemStore: NewMemStore(), delay: 30 * time.Millisecond}
	saver := NewProgressiveSaver(store, nil, ModeBatch, 0)

	// The caller cancels right after handing off, as a finished
	// fan-out branch does. The batch must still land.
	ctx, cancel := context.WithCancel(context.Background())
	saver.Save(ctx, "run-1", "proj-1", testItems(2))
	cancel()
	saver.Wait("run-1")

	if saver.Saved("run-1") != 2 {
		t.Errorf("expected 2 items saved after caller cancellation, got %d", saver.Saved("run-1"))
	}
}

func TestSaverWaitIsPerRun(t *testing.T) {
	release := make(chan struct{})
	store := &blockingStore{MemStore: NewMemStore(), release: release}
	saver := NewProgressiveSaver(store, nil, ModeBatch, 0)

	saver.Save(context.Background(), "run-stuck", "proj-1", testItems(1))
	saver.Save(context.Background(), "run-1", "proj-1", testItems(2))

	done := make(chan struct{})
	go func() {
		saver.Wait("run-1")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait for one run blocked on another run's in-flight save")
	}
	if saver.Saved("run-1") != 2 {
		t.Errorf("expected 2 items saved, got %d", saver.Saved("run-1"))
	}

	close(release)
	saver.Wait("run-stuck")
}

// blockingStore stalls writes for one run until released.
type blockingStore struct {
	*MemStore
	release chan struct{}
}

func (b *blockingStore) SaveItems(ctx context.Context, runID, projectID string, items []insight.MetricItem) (int, error) {
	if runID == "run-stuck" {
		<-b.release
	}
	return b.MemStore.SaveItems(ctx, runID, projectID, items)
}

func TestSaverForgetReleasesRun(t *testing.T) {
	store := NewMemStore()
	saver := NewProgressiveSaver(store, nil, ModeBatch, 0)

	saver.Save(context.Background(), "run-1", "proj-1", testItems(3))
	saver.Wait("run-1")
	if saver.Saved("run-1") != 3 {
		t.Fatalf("expected 3 items saved, got %d", saver.Saved("run-1"))
	}

	saver.Forget("run-1")
	if saver.Saved("run-1") != 0 {
		t.Errorf("expected no accounting after Forget, got %d", saver.Saved("run-1"))
	}
}

func TestSaverConcurrentBatches(t *testing.T) {
	store := NewMemStore()
	saver := NewProgressiveSaver(store, nil, ModeBatch, 0)

	for i := 0; i < 8; i++ {
		saver.Save(context.Background(), "run-1", "proj-1", testItems(2))
	}
	saver.Wait("run-1")

	if saver.Saved("run-1") != 16 {
		t.Errorf("expected 16 items saved, got %d", saver.Saved("run-1"))
	}
}
