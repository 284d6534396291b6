package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomworks/loom/internal/ir"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBoard(version int64) *ir.Board {
	b := ir.NewBoard("board-1")
	b.Version = version
	b.Slots["worker"] = ir.SlotDecl{
		ID: "worker", Pinout: "job",
		Policy: ir.ReplicaPolicy{Mode: ir.ReplicaAny},
	}
	return b
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Error(err)
	}
}

func TestWriteBoard_ReadBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	board := testBoard(3)
	if err := s.WriteBoard(ctx, board, "hash-3"); err != nil {
		t.Fatalf("WriteBoard() failed: %v", err)
	}

	got, hash, err := s.ReadBoard(ctx, "board-1", 3)
	if err != nil {
		t.Fatalf("ReadBoard() failed: %v", err)
	}
	if hash != "hash-3" {
		t.Errorf("hash = %q, want %q", hash, "hash-3")
	}
	if got.ID != "board-1" || got.Version != 3 {
		t.Errorf("board = %s v%d, want board-1 v3", got.ID, got.Version)
	}
	if _, ok := got.Slots["worker"]; !ok {
		t.Error("slot declaration lost in round trip")
	}
}

func TestWriteBoard_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	board := testBoard(1)
	for i := 0; i < 2; i++ {
		if err := s.WriteBoard(ctx, board, "hash-1"); err != nil {
			t.Fatalf("WriteBoard() iteration %d failed: %v", i, err)
		}
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM boards").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("board rows = %d, want 1", count)
	}
}

func TestReadLatestBoard(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for v := int64(1); v <= 3; v++ {
		if err := s.WriteBoard(ctx, testBoard(v), "hash"); err != nil {
			t.Fatalf("WriteBoard(v%d) failed: %v", v, err)
		}
	}

	got, _, err := s.ReadLatestBoard(ctx, "board-1")
	if err != nil {
		t.Fatalf("ReadLatestBoard() failed: %v", err)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
}

func TestReadBoard_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, _, err := s.ReadBoard(context.Background(), "nope", 1)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestWriteReceipt_OrderedReadBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Written out of order; reads must come back ordered by seq.
	receipts := []ir.Receipt{
		{ID: "r-b", OpID: "op-2", Status: ir.ReceiptOK, Prov: ir.Provenance{Seq: 2}},
		{ID: "r-a", OpID: "op-1", Status: ir.ReceiptOK, Prov: ir.Provenance{Seq: 1}},
		{ID: "r-c", OpID: "op-3", Status: ir.ReceiptError, Code: "POLICY_VIOLATION", Prov: ir.Provenance{Seq: 3}},
	}
	for _, r := range receipts {
		if err := s.WriteReceipt(ctx, "board-1", 1, r); err != nil {
			t.Fatalf("WriteReceipt(%s) failed: %v", r.ID, err)
		}
	}

	got, err := s.ReadReceipts(ctx, "board-1")
	if err != nil {
		t.Fatalf("ReadReceipts() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"r-a", "r-b", "r-c"} {
		if got[i].ID != want {
			t.Errorf("receipts[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
	if got[2].Code != "POLICY_VIOLATION" {
		t.Errorf("error code lost in round trip: %q", got[2].Code)
	}
}

func TestWriteReceipt_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r := ir.Receipt{ID: "r-1", OpID: "op-1", Status: ir.ReceiptOK, Prov: ir.Provenance{Seq: 1}}
	for i := 0; i < 2; i++ {
		if err := s.WriteReceipt(ctx, "board-1", 1, r); err != nil {
			t.Fatalf("WriteReceipt() iteration %d failed: %v", i, err)
		}
	}

	got, err := s.ReadReceipts(ctx, "board-1")
	if err != nil {
		t.Fatalf("ReadReceipts() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestReadReceipts_EmptyNotNil(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ReadReceipts(context.Background(), "board-1")
	if err != nil {
		t.Fatalf("ReadReceipts() failed: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestStoreImplementsJournal(t *testing.T) {
	s := openTestStore(t)

	board := testBoard(1)
	if err := s.SaveBoard(board, "hash-1"); err != nil {
		t.Fatalf("SaveBoard() failed: %v", err)
	}
	r := ir.Receipt{ID: "r-1", OpID: "op-1", Status: ir.ReceiptOK, Prov: ir.Provenance{Seq: 1}}
	if err := s.AppendReceipt("board-1", 1, r); err != nil {
		t.Fatalf("AppendReceipt() failed: %v", err)
	}

	got, err := s.ReadReceipts(context.Background(), "board-1")
	if err != nil {
		t.Fatalf("ReadReceipts() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}
