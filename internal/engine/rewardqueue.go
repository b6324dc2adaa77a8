package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/apsync/internal/metrics"
)

// QueuedReward is a received item waiting to be granted.
type QueuedReward struct {
	Index    int64
	APItemID int64
	Name     string
}

// RewardQueue holds rewards until the game can accept them.
//
// QueueReward and Enqueue may be called from any goroutine. ProcessQueued
// must be called from the consumer goroutine.
type RewardQueue struct {
	grant   func(QueuedReward) error
	suspend func(bool)
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending []QueuedReward
	enabled bool
}

// NewRewardQueue creates a queue with granting disabled. suspend is called
// with true before a batch is granted and with false afterwards; it may be nil.
func NewRewardQueue(grant func(QueuedReward) error, suspend func(bool), logger *slog.Logger, m *metrics.Metrics) *RewardQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if suspend == nil {
		suspend = func(bool) {}
	}
	return &RewardQueue{
		grant:   grant,
		suspend: suspend,
		logger:  logger.With("component", "rewards"),
		metrics: m,
	}
}

// QueueReward appends a reward with no stream index.
func (q *RewardQueue) QueueReward(apItemID int64, name string) {
	q.Enqueue(QueuedReward{Index: -1, APItemID: apItemID, Name: name})
}

// Enqueue appends r.
func (q *RewardQueue) Enqueue(r QueuedReward) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	q.mu.Unlock()
}

// SetGrantingEnabled follows the gameplay signal.
func (q *RewardQueue) SetGrantingEnabled(enabled bool) {
	q.mu.Lock()
	q.enabled = enabled
	q.mu.Unlock()
}

// GrantingEnabled reports the gate.
func (q *RewardQueue) GrantingEnabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Len returns the number of rewards waiting.
func (q *RewardQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// ProcessQueued grants every waiting reward and returns how many succeeded.
// A failed reward is logged, reported in the joined error, and dropped; it
// does not stop the rest of the batch. Nothing happens while granting is
// disabled.
func (q *RewardQueue) ProcessQueued() (int, error) {
	q.mu.Lock()
	if !q.enabled || len(q.pending) == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	q.suspend(true)
	defer q.suspend(false)

	granted := 0
	var errs []error
	for _, r := range batch {
		if err := q.grantOne(r); err != nil {
			rerr := NewRewardError(r, err)
			q.logger.Error("grant failed", "item", r.APItemID, "name", r.Name, "index", r.Index, "error", err)
			q.metrics.RewardFailed()
			errs = append(errs, rerr)
			continue
		}
		granted++
		q.metrics.RewardGranted()
		q.logger.Info("reward granted", "item", r.APItemID, "name", r.Name, "index", r.Index)
	}
	return granted, errors.Join(errs...)
}

func (q *RewardQueue) grantOne(r QueuedReward) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return q.grant(r)
}
