package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// NoProgress is the item index of a session that has applied nothing.
const NoProgress int64 = -1

// SessionKey identifies a (slot, seed) session.
type SessionKey struct {
	Slot string
	Seed string
}

// NewSessionKey trims and NFC-normalizes the slot name so the same player
// typed on different keyboards maps to one row.
func NewSessionKey(slot, seed string) SessionKey {
	return SessionKey{
		Slot: norm.NFC.String(strings.TrimSpace(slot)),
		Seed: strings.TrimSpace(seed),
	}
}

func (k SessionKey) String() string { return k.Slot + "@" + k.Seed }

// Valid reports whether both parts are set.
func (k SessionKey) Valid() bool { return k.Slot != "" && k.Seed != "" }

// LoadItemIndex returns the highest applied item index, or NoProgress.
func (s *Store) LoadItemIndex(ctx context.Context, key SessionKey) (int64, error) {
	var idx int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_index FROM item_progress WHERE slot = ? AND seed = ?`,
		key.Slot, key.Seed,
	).Scan(&idx)
	if errors.Is(err, sql.ErrNoRows) {
		return NoProgress, nil
	}
	if err != nil {
		return NoProgress, fmt.Errorf("load item index %s: %w", key, err)
	}
	return idx, nil
}

// SaveItemIndex records idx as applied. The stored value never decreases.
func (s *Store) SaveItemIndex(ctx context.Context, key SessionKey, idx int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_progress (slot, seed, last_index)
		VALUES (?, ?, ?)
		ON CONFLICT(slot, seed) DO UPDATE SET last_index = max(last_index, excluded.last_index)
	`, key.Slot, key.Seed, idx)
	if err != nil {
		return fmt.Errorf("save item index %s: %w", key, err)
	}
	return nil
}

// RecordSentChecks journals transmitted location ids. Duplicates are ignored.
func (s *Store) RecordSentChecks(ctx context.Context, key SessionKey, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record sent checks: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sent_checks (slot, seed, location_id)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("record sent checks: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, key.Slot, key.Seed, id); err != nil {
			return fmt.Errorf("record sent check %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record sent checks: %w", err)
	}
	return nil
}

// SentChecks returns the journaled location ids in ascending order.
func (s *Store) SentChecks(ctx context.Context, key SessionKey) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT location_id FROM sent_checks
		WHERE slot = ? AND seed = ?
		ORDER BY location_id ASC
	`, key.Slot, key.Seed)
	if err != nil {
		return nil, fmt.Errorf("query sent checks: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sent check: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent checks: %w", err)
	}
	return ids, nil
}

// ClientUUID returns the UUID for host, generating and storing one on first use.
func (s *Store) ClientUUID(ctx context.Context, host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO client_identity (host, uuid) VALUES (?, ?) ON CONFLICT(host) DO NOTHING`,
		host, uuid.NewString(),
	); err != nil {
		return "", fmt.Errorf("client uuid %s: %w", host, err)
	}

	var id string
	if err := s.db.QueryRowContext(ctx,
		`SELECT uuid FROM client_identity WHERE host = ?`, host,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("client uuid %s: %w", host, err)
	}
	return id, nil
}

// Session summarizes one stored session.
type Session struct {
	Key        SessionKey
	LastIndex  int64
	SentChecks int
}

// Sessions lists every session with stored progress or journaled checks,
// ordered by slot then seed.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT k.slot, k.seed,
		       COALESCE((SELECT last_index FROM item_progress p WHERE p.slot = k.slot AND p.seed = k.seed), -1),
		       (SELECT COUNT(*) FROM sent_checks c WHERE c.slot = k.slot AND c.seed = k.seed)
		FROM (
			SELECT slot, seed FROM item_progress
			UNION
			SELECT slot, seed FROM sent_checks
		) k
		ORDER BY k.slot ASC, k.seed ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.Key.Slot, &sess.Key.Seed, &sess.LastIndex, &sess.SentChecks); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// ResetSession deletes the progress and journal of one session.
func (s *Store) ResetSession(ctx context.Context, key SessionKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset session %s: %w", key, err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM item_progress WHERE slot = ? AND seed = ?`,
		`DELETE FROM sent_checks WHERE slot = ? AND seed = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, key.Slot, key.Seed); err != nil {
			return fmt.Errorf("reset session %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reset session %s: %w", key, err)
	}
	return nil
}
