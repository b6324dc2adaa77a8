// Package store keeps the client's durable state in SQLite.
//
// Three tables survive a restart:
//   - item_progress: the highest applied ReceivedItems index per (slot, seed)
//   - sent_checks: every location id transmitted for a (slot, seed)
//   - client_identity: the UUID presented to each server host
//
// A session without an item_progress row has applied nothing; its index is
// NoProgress and replay starts from the first item.
//
// The database runs in WAL mode with synchronous=NORMAL and a 5s busy
// timeout. Schema changes are applied as numbered migrations tracked in
// PRAGMA user_version; a database written by a newer client is refused.
//
// Writes are idempotent. Saving a lower index or journaling a location twice
// leaves the stored state unchanged.
package store
