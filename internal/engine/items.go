package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/apsync/internal/metrics"
	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/store"
)

// Resyncer recovers from a gap in the item stream.
type Resyncer interface {
	RequestSync() error
	ResendAllChecks()
}

// ItemTracker turns ReceivedItems into queued rewards, in index order and
// at most once per index. It owns the high-water index of the session and
// persists it after every batch that advances it.
//
// Items that arrive ahead of a gap are held until the gap is filled, either
// by the rest of the batch or by the full history the server sends after a
// Sync request.
type ItemTracker struct {
	progress ProgressStore
	enqueue  func(QueuedReward)
	resync   Resyncer
	names    func(apItemID int64) string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu            sync.Mutex
	key           store.SessionKey
	applied       int64
	pending       map[int64]protocol.NetworkItem
	resyncPending bool
}

// NewItemTracker creates a tracker with nothing applied.
// progress and names may be nil.
func NewItemTracker(
	progress ProgressStore,
	enqueue func(QueuedReward),
	resync Resyncer,
	names func(int64) string,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ItemTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if names == nil {
		names = func(id int64) string { return fmt.Sprintf("Item %d", id) }
	}
	return &ItemTracker{
		progress: progress,
		enqueue:  enqueue,
		resync:   resync,
		names:    names,
		logger:   logger.With("component", "items"),
		metrics:  m,
		applied:  store.NoProgress,
		pending:  make(map[int64]protocol.NetworkItem),
	}
}

// Load restores the high-water index persisted for key. Reloading the
// session already held keeps the in-memory index when it is ahead of the
// stored one, which is always the case without a usable store.
func (t *ItemTracker) Load(ctx context.Context, key store.SessionKey) error {
	idx := store.NoProgress
	if t.progress != nil && key.Valid() {
		var err error
		idx, err = t.progress.LoadItemIndex(ctx, key)
		if err != nil {
			return fmt.Errorf("load item index for %s: %w", key, err)
		}
	}

	t.mu.Lock()
	if key == t.key && t.applied > idx {
		idx = t.applied
	}
	t.key = key
	t.applied = idx
	clear(t.pending)
	t.resyncPending = false
	t.mu.Unlock()

	t.logger.Info("item progress loaded", "session", key.String(), "last_index", idx)
	return nil
}

// Reset forgets buffered items. The high-water index is kept until the next Load.
func (t *ItemTracker) Reset() {
	t.mu.Lock()
	clear(t.pending)
	t.resyncPending = false
	t.mu.Unlock()
}

// Applied returns the high-water index, or store.NoProgress.
func (t *ItemTracker) Applied() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applied
}

// Pending returns the number of items held behind a gap.
func (t *ItemTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// OnItemsReceived processes one ReceivedItems batch. Items must carry their
// stream index. Must be called from the consumer goroutine.
func (t *ItemTracker) OnItemsReceived(ctx context.Context, items []protocol.NetworkItem) error {
	if len(items) == 0 {
		return nil
	}

	t.mu.Lock()
	start := t.applied
	if items[0].Index == 0 && len(items) > 1 {
		// Full history. Anything buffered is superseded by it.
		clear(t.pending)
		t.resyncPending = false
	}

	desync := false
	for _, it := range items {
		if it.Index <= t.applied {
			continue
		}
		if _, held := t.pending[it.Index]; held {
			continue
		}
		expected := t.applied + 1
		if it.Index == expected || expected == 0 {
			t.applyLocked(it)
			t.flushLocked()
			continue
		}

		t.pending[it.Index] = it
		if !t.resyncPending {
			t.resyncPending = true
			desync = true
			t.logger.Warn("item index gap", "error", NewDesyncError(expected, it.Index))
			t.metrics.Desync()
		}
	}
	if len(t.pending) == 0 {
		t.resyncPending = false
	}
	advanced := t.applied > start
	key, applied := t.key, t.applied
	t.mu.Unlock()

	if desync && t.resync != nil {
		if err := t.resync.RequestSync(); err != nil {
			t.logger.Warn("sync request failed", "error", err)
		}
		t.resync.ResendAllChecks()
	}

	if !advanced || t.progress == nil || !key.Valid() {
		return nil
	}
	if err := t.progress.SaveItemIndex(ctx, key, applied); err != nil {
		return fmt.Errorf("save item index %d for %s: %w", applied, key, err)
	}
	return nil
}

func (t *ItemTracker) applyLocked(it protocol.NetworkItem) {
	t.applied = it.Index
	t.enqueue(QueuedReward{
		Index:    it.Index,
		APItemID: it.Item,
		Name:     t.names(it.Item),
	})
	t.metrics.ItemApplied(it.Index)
}

func (t *ItemTracker) flushLocked() {
	for {
		it, ok := t.pending[t.applied+1]
		if !ok {
			return
		}
		delete(t.pending, it.Index)
		t.applyLocked(it)
	}
}
