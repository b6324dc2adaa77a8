package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/apsync/internal/metrics"
	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/store"
)

// CheckDeduplicator sends each location check at most once per session.
//
// Sending is gated twice: EnableSending opens the gate once gameplay is
// active, and Suspend closes it temporarily while rewards are being applied
// so that flags set by a grant are not reported as checks. Checks observed
// while gated are dropped, not buffered.
type CheckDeduplicator struct {
	sender  PacketSender
	journal CheckJournal
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	sent      map[int64]struct{}
	key       store.SessionKey
	enabled   bool
	suspended bool

	suppressedLog rate.Sometimes
}

// NewCheckDeduplicator creates a deduplicator with sending disabled.
// journal may be nil.
func NewCheckDeduplicator(sender PacketSender, journal CheckJournal, logger *slog.Logger, m *metrics.Metrics) *CheckDeduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckDeduplicator{
		sender:        sender,
		journal:       journal,
		logger:        logger.With("component", "checks"),
		metrics:       m,
		sent:          make(map[int64]struct{}),
		suppressedLog: rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
}

// SendCheck reports a location check. It returns true only when the check was
// transmitted by this call.
func (d *CheckDeduplicator) SendCheck(id int64) bool {
	d.mu.Lock()
	if _, dup := d.sent[id]; dup {
		d.mu.Unlock()
		return false
	}
	if !d.enabled || d.suspended {
		enabled, suspended := d.enabled, d.suspended
		d.mu.Unlock()
		d.metrics.CheckSuppressed()
		d.suppressedLog.Do(func() {
			d.logger.Warn("check suppressed", "location", id, "sending_enabled", enabled, "suspended", suspended)
		})
		return false
	}
	if !d.sender.IsConnected() {
		d.mu.Unlock()
		d.logger.Debug("check not sent, not connected", "location", id)
		return false
	}
	// Reserve the id so a concurrent caller cannot send it too.
	d.sent[id] = struct{}{}
	key := d.key
	d.mu.Unlock()

	if err := d.sender.Send(protocol.LocationChecks{Locations: []int64{id}}); err != nil {
		d.mu.Lock()
		delete(d.sent, id)
		d.mu.Unlock()
		d.logger.Warn("send check failed", "location", id, "error", err)
		return false
	}

	d.metrics.ChecksSent(1)
	d.logger.Info("check sent", "location", id)
	d.record(key, id)
	return true
}

func (d *CheckDeduplicator) record(key store.SessionKey, ids ...int64) {
	if d.journal == nil || !key.Valid() || len(ids) == 0 {
		return
	}
	if err := d.journal.RecordSentChecks(context.Background(), key, ids...); err != nil {
		d.logger.Warn("journal write failed", "session", key.String(), "error", err)
	}
}

// EnableSending opens or closes the gameplay gate.
func (d *CheckDeduplicator) EnableSending(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Suspend closes the gate while rewards are being applied.
func (d *CheckDeduplicator) Suspend(suspended bool) {
	d.mu.Lock()
	d.suspended = suspended
	d.mu.Unlock()
}

// SendingEnabled reports whether checks would currently be transmitted.
func (d *CheckDeduplicator) SendingEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled && !d.suspended
}

// Restore seeds the set from the journal of key. Switching to a different
// session discards the previous session's set first.
func (d *CheckDeduplicator) Restore(key store.SessionKey, ids []int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if key != d.key {
		d.sent = make(map[int64]struct{}, len(ids))
		d.key = key
	}
	for _, id := range ids {
		d.sent[id] = struct{}{}
	}
}

// SyncWithServer merges the server's checked locations into the set and
// resends the ones the server has not seen.
func (d *CheckDeduplicator) SyncWithServer(serverChecked []int64) {
	server := make(map[int64]struct{}, len(serverChecked))
	for _, id := range serverChecked {
		server[id] = struct{}{}
	}

	d.mu.Lock()
	var localOnly []int64
	for id := range d.sent {
		if _, ok := server[id]; !ok {
			localOnly = append(localOnly, id)
		}
	}
	var added []int64
	for id := range server {
		if _, ok := d.sent[id]; !ok {
			d.sent[id] = struct{}{}
			added = append(added, id)
		}
	}
	key := d.key
	d.mu.Unlock()

	slices.Sort(added)
	d.record(key, added...)

	if len(localOnly) == 0 {
		d.logger.Info("checks in sync", "server", len(serverChecked))
		return
	}
	slices.Sort(localOnly)
	if !d.sender.IsConnected() {
		return
	}
	if err := d.sender.Send(protocol.LocationChecks{Locations: localOnly}); err != nil {
		d.logger.Warn("resend local checks failed", "count", len(localOnly), "error", err)
		return
	}
	d.metrics.ChecksResent(len(localOnly))
	d.logger.Info("resent checks the server missed", "count", len(localOnly))
}

// MarkConfirmed adds server-confirmed checks without sending anything.
func (d *CheckDeduplicator) MarkConfirmed(ids []int64) {
	d.mu.Lock()
	var added []int64
	for _, id := range ids {
		if _, ok := d.sent[id]; !ok {
			d.sent[id] = struct{}{}
			added = append(added, id)
		}
	}
	key := d.key
	d.mu.Unlock()
	d.record(key, added...)
}

// ResendAllChecks sends the entire set in one packet. Only the connection
// gates it; the gameplay gate does not apply to checks already made.
func (d *CheckDeduplicator) ResendAllChecks() {
	ids := d.SentChecks()
	if len(ids) == 0 || !d.sender.IsConnected() {
		return
	}
	if err := d.sender.Send(protocol.LocationChecks{Locations: ids}); err != nil {
		d.logger.Warn("resend all checks failed", "count", len(ids), "error", err)
		return
	}
	d.metrics.ChecksResent(len(ids))
}

// IsSent reports whether id is in the set.
func (d *CheckDeduplicator) IsSent(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sent[id]
	return ok
}

// SentChecks returns the set in ascending order.
func (d *CheckDeduplicator) SentChecks() []int64 {
	d.mu.Lock()
	ids := make([]int64, 0, len(d.sent))
	for id := range d.sent {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	slices.Sort(ids)
	return ids
}
