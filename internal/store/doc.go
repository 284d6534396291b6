// Package store provides durable storage for board definitions, receipts,
// and network snapshots.
//
// The store is a journal, not the source of truth: the binder's in-memory
// board is authoritative, and every write here is idempotent (ON CONFLICT
// DO NOTHING) so a crashed-and-replayed plan lands on the same rows.
//
// Uses SQLite with WAL mode for concurrent read access. Snapshots are
// content-addressed: the row key is the hash of the serialized state, and
// reads verify the body against the requested hash before returning it.
package store
