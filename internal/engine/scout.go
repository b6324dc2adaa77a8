package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/apsync/internal/protocol"
)

// ScoutPollInterval is the pause between network pumps while a scout waits.
const ScoutPollInterval = 10 * time.Millisecond

// scoutRequest is the single in-flight LocationScouts request.
type scoutRequest struct {
	done   chan struct{}
	once   sync.Once
	result []protocol.NetworkItem
}

func (r *scoutRequest) finish(items []protocol.NetworkItem) {
	r.once.Do(func() {
		r.result = items
		close(r.done)
	})
}

// ScoutCoordinator turns LocationScouts/LocationInfo into a blocking call.
type ScoutCoordinator struct {
	sender PacketSender
	poll   func()
	logger *slog.Logger

	mu      sync.Mutex
	pending *scoutRequest
}

// NewScoutCoordinator creates a coordinator. poll pumps the network while a
// scout waits and may be nil when the transport delivers on its own.
func NewScoutCoordinator(sender PacketSender, poll func(), logger *slog.Logger) *ScoutCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if poll == nil {
		poll = func() {}
	}
	return &ScoutCoordinator{
		sender: sender,
		poll:   poll,
		logger: logger.With("component", "scout"),
	}
}

// ScoutSync asks the server what is placed at locations and waits up to
// timeout for the answer. A timeout or a disconnect yields an empty result
// and no error; a cancelled ctx yields ctx.Err(). Only one scout may be in
// flight; a concurrent call returns ErrScoutInFlight.
func (s *ScoutCoordinator) ScoutSync(ctx context.Context, locations []int64, hint protocol.HintMode, timeout time.Duration) ([]protocol.NetworkItem, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrScoutInFlight
	}
	req := &scoutRequest{done: make(chan struct{})}
	s.pending = req
	s.mu.Unlock()
	defer s.clear(req)

	if err := s.sender.Send(protocol.LocationScouts{Locations: locations, CreateAsHint: hint}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(ScoutPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-req.done:
			return req.result, nil
		default:
		}

		s.poll()

		select {
		case <-req.done:
			return req.result, nil
		case <-timer.C:
			s.logger.Warn("scout timed out", "locations", len(locations), "timeout", timeout)
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *ScoutCoordinator) clear(req *scoutRequest) {
	s.mu.Lock()
	if s.pending == req {
		s.pending = nil
	}
	s.mu.Unlock()
}

// Complete delivers a LocationInfo answer to the waiting scout, if any.
func (s *ScoutCoordinator) Complete(items []protocol.NetworkItem) {
	s.mu.Lock()
	req := s.pending
	s.mu.Unlock()
	if req == nil {
		s.logger.Debug("location info with no scout pending", "locations", len(items))
		return
	}
	req.finish(items)
}

// Cancel releases a waiting scout with an empty result.
func (s *ScoutCoordinator) Cancel() {
	s.mu.Lock()
	req := s.pending
	s.mu.Unlock()
	if req != nil {
		req.finish(nil)
	}
}

// InFlight reports whether a scout is waiting.
func (s *ScoutCoordinator) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}
