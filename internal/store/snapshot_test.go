package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/loomworks/loom/internal/binder"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lattice"
	"github.com/loomworks/loom/internal/network"
)

var _ binder.Journal = (*Store)(nil)

func testState() network.NetworkState {
	return network.NetworkState{
		RootGroupID: network.RootGroupID,
		Groups: map[string]network.GroupState{
			network.RootGroupID: {
				ID: network.RootGroupID,
				Contacts: map[string]network.ContactState{
					"root:a": {ID: "root:a", BlendMode: lattice.NameMaxInt, Content: ir.Int(5)},
					"root:b": {ID: "root:b", BlendMode: lattice.NameRateLimit, Content: lattice.RateLimitValue(10, 2)},
				},
				Wires: map[string]network.WireState{
					"w1": {ID: "w1", From: "root:a", To: "root:b"},
				},
			},
		},
	}
}

func TestWriteSnapshot_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	state := testState()
	hash, err := s.WriteSnapshot(ctx, "board-1", state)
	if err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}
	if hash == "" {
		t.Fatal("empty snapshot hash")
	}

	got, err := s.ReadSnapshot(ctx, hash)
	if err != nil {
		t.Fatalf("ReadSnapshot() failed: %v", err)
	}
	if got.RootGroupID != network.RootGroupID {
		t.Errorf("root group = %q, want %q", got.RootGroupID, network.RootGroupID)
	}
	c := got.Groups[network.RootGroupID].Contacts["root:a"]
	if !ir.Equal(c.Content, ir.Int(5)) {
		t.Errorf("contact content = %v, want 5", c.Content)
	}
	c = got.Groups[network.RootGroupID].Contacts["root:b"]
	if !ir.Equal(c.Content, lattice.RateLimitValue(10, 2)) {
		t.Errorf("contact content = %v, want rate limit", c.Content)
	}
}

func TestWriteSnapshot_ContentAddressed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	h1, err := s.WriteSnapshot(ctx, "board-1", testState())
	if err != nil {
		t.Fatalf("first WriteSnapshot() failed: %v", err)
	}
	h2, err := s.WriteSnapshot(ctx, "board-1", testState())
	if err != nil {
		t.Fatalf("second WriteSnapshot() failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("same state hashed to %q and %q", h1, h2)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("snapshot rows = %d, want 1", count)
	}
}

func TestWriteSnapshot_DoesNotMutateCaller(t *testing.T) {
	s := openTestStore(t)

	state := testState()
	if _, err := s.WriteSnapshot(context.Background(), "board-1", state); err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}

	c := state.Groups[network.RootGroupID].Contacts["root:a"]
	if c.ContentJSON != nil {
		t.Error("caller's state was mutated during encoding")
	}
}

func TestReadSnapshot_DetectsCorruption(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hash, err := s.WriteSnapshot(ctx, "board-1", testState())
	if err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}

	if _, err := s.db.Exec("UPDATE snapshots SET body = '{}' WHERE hash = ?", hash); err != nil {
		t.Fatalf("corrupting row failed: %v", err)
	}

	if _, err := s.ReadSnapshot(ctx, hash); err == nil {
		t.Error("expected hash mismatch error for corrupted body")
	}
}

func TestReadSnapshot_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ReadSnapshot(context.Background(), "no-such-hash")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestListSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	hash, err := s.WriteSnapshot(ctx, "board-1", testState())
	if err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}

	metas, err := s.ListSnapshots(ctx, "board-1")
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("len = %d, want 1", len(metas))
	}
	if metas[0].Hash != hash || metas[0].BoardID != "board-1" {
		t.Errorf("meta = %+v", metas[0])
	}

	empty, err := s.ListSnapshots(ctx, "other-board")
	if err != nil {
		t.Fatalf("ListSnapshots(other) failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty slice, got %v", empty)
	}
}
