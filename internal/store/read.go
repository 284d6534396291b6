package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/network"
)

// ReadBoard retrieves one board version.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadBoard(ctx context.Context, boardID ir.BoardID, version int64) (*ir.Board, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, body FROM boards
		WHERE board_id = ? AND version = ?
	`, string(boardID), version)

	return scanBoard(row)
}

// ReadLatestBoard retrieves the highest persisted version of a board.
// Returns sql.ErrNoRows if the board has never been saved.
func (s *Store) ReadLatestBoard(ctx context.Context, boardID ir.BoardID) (*ir.Board, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, body FROM boards
		WHERE board_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, string(boardID))

	return scanBoard(row)
}

func scanBoard(row *sql.Row) (*ir.Board, string, error) {
	var hash, body string
	if err := row.Scan(&hash, &body); err != nil {
		return nil, "", err
	}

	var board ir.Board
	if err := json.Unmarshal([]byte(body), &board); err != nil {
		return nil, "", fmt.Errorf("read board: unmarshal: %w", err)
	}
	return &board, hash, nil
}

// ReadReceipts returns every receipt recorded for a board.
// Ordering is deterministic: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no receipts exist.
func (s *Store) ReadReceipts(ctx context.Context, boardID ir.BoardID) ([]ir.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM receipts
		WHERE board_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(boardID))
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	receipts := []ir.Receipt{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		var r ir.Receipt
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("read receipt: unmarshal: %w", err)
		}
		receipts = append(receipts, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}

	return receipts, nil
}

// ReadReceipt retrieves a single receipt by its content address.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadReceipt(ctx context.Context, id string) (ir.Receipt, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM receipts WHERE id = ?
	`, id).Scan(&body)
	if err != nil {
		return ir.Receipt{}, err
	}

	var r ir.Receipt
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return ir.Receipt{}, fmt.Errorf("read receipt: unmarshal: %w", err)
	}
	return r, nil
}

// ReadSnapshot retrieves a network snapshot by content address. The
// stored body is re-hashed and checked against the requested hash before
// decoding, so a corrupted row can never masquerade as the snapshot it
// claims to be.
func (s *Store) ReadSnapshot(ctx context.Context, hash string) (network.NetworkState, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM snapshots WHERE hash = ?
	`, hash).Scan(&body)
	if err != nil {
		return network.NetworkState{}, err
	}

	if got := ir.HashBytes(ir.DomainSnapshot, []byte(body)); got != hash {
		return network.NetworkState{}, fmt.Errorf("read snapshot: body hash %s does not match key %s", got, hash)
	}

	var state network.NetworkState
	if err := json.Unmarshal([]byte(body), &state); err != nil {
		return network.NetworkState{}, fmt.Errorf("read snapshot: unmarshal: %w", err)
	}
	if err := state.DecodeContent(); err != nil {
		return network.NetworkState{}, fmt.Errorf("read snapshot: decode content: %w", err)
	}
	return state, nil
}

// SnapshotMeta describes one stored snapshot without its body.
type SnapshotMeta struct {
	Hash      string
	BoardID   ir.BoardID
	CreatedMS int64
}

// ListSnapshots returns snapshot metadata for a board, oldest first.
// Returns an empty slice (not nil) if no snapshots exist.
func (s *Store) ListSnapshots(ctx context.Context, boardID ir.BoardID) ([]SnapshotMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, board_id, created_ms FROM snapshots
		WHERE board_id = ?
		ORDER BY created_ms ASC, hash COLLATE BINARY ASC
	`, string(boardID))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	metas := []SnapshotMeta{}
	for rows.Next() {
		var m SnapshotMeta
		var id string
		if err := rows.Scan(&m.Hash, &id, &m.CreatedMS); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		m.BoardID = ir.BoardID(id)
		metas = append(metas, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	return metas, nil
}
