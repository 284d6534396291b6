package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/network"
)

// WriteBoard inserts a board version into the store.
// Uses ON CONFLICT(board_id, version) DO NOTHING for idempotency: a board
// version is immutable, so replaying a write is a no-op.
func (s *Store) WriteBoard(ctx context.Context, board *ir.Board, hash string) error {
	body, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("write board: marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO boards (board_id, version, hash, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(board_id, version) DO NOTHING
	`,
		string(board.ID),
		board.Version,
		hash,
		string(body),
	)
	if err != nil {
		return fmt.Errorf("write board: %w", err)
	}

	return nil
}

// WriteReceipt inserts a receipt into the store.
// Receipt ids are content addresses, so ON CONFLICT(id) DO NOTHING makes
// duplicate writes of the same receipt silently idempotent.
func (s *Store) WriteReceipt(ctx context.Context, boardID ir.BoardID, version int64, r ir.Receipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("write receipt: marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, board_id, version, op_id, seq, status, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		r.ID,
		string(boardID),
		version,
		r.OpID,
		r.Prov.Seq,
		string(r.Status),
		string(body),
	)
	if err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	return nil
}

// SaveBoard implements the binder's journal contract.
func (s *Store) SaveBoard(board *ir.Board, hash string) error {
	return s.WriteBoard(context.Background(), board, hash)
}

// AppendReceipt implements the binder's journal contract.
func (s *Store) AppendReceipt(boardID ir.BoardID, version int64, r ir.Receipt) error {
	return s.WriteReceipt(context.Background(), boardID, version, r)
}

// WriteSnapshot persists a network snapshot and returns its content
// address. The state is cloned and its contact content serialized before
// hashing, so the caller's copy is never mutated. Writing the same state
// twice yields the same hash and a single row.
func (s *Store) WriteSnapshot(ctx context.Context, boardID ir.BoardID, state network.NetworkState) (string, error) {
	enc := state.Clone()
	if err := enc.EncodeContent(); err != nil {
		return "", fmt.Errorf("write snapshot: encode content: %w", err)
	}

	body, err := json.Marshal(enc)
	if err != nil {
		return "", fmt.Errorf("write snapshot: marshal: %w", err)
	}
	hash := ir.HashBytes(ir.DomainSnapshot, body)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (hash, board_id, created_ms, body)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`,
		hash,
		string(boardID),
		time.Now().UnixMilli(),
		string(body),
	)
	if err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return hash, nil
}
