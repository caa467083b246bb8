package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/internal/convstore/postgres"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if FASTWORKFLOW_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("FASTWORKFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FASTWORKFLOW_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with clean conversation
// tables and closes it when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS conversations, conversation_sequences`); err != nil {
		t.Fatalf("drop tables: %v", err)
	}

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func turns(summaries ...string) []types.Turn {
	out := make([]types.Turn, len(summaries))
	for i, s := range summaries {
		out[i] = types.Turn{Summary: s}
	}
	return out
}

func TestReserveSaveGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.ReserveNextID(ctx, "alice")
	if err != nil {
		t.Fatalf("ReserveNextID: %v", err)
	}
	if id != 1 {
		t.Errorf("first id = %d, want 1", id)
	}
	if id, err = store.ReserveNextID(ctx, "alice"); err != nil || id != 2 {
		t.Fatalf("second ReserveNextID = %d, %v; want 2, nil", id, err)
	}

	if err := store.SaveTurns(ctx, "alice", 1, turns("t1", "t2")); err != nil {
		t.Fatalf("SaveTurns: %v", err)
	}
	conv, err := store.Get(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(conv.Turns) != 2 || conv.Turns[1].Summary != "t2" {
		t.Errorf("turns = %+v, want t1,t2", conv.Turns)
	}
	if conv.CreatedAt.IsZero() || conv.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	// Incremental saves replace the turn list and keep created_at.
	created := conv.CreatedAt
	if err := store.SaveTurns(ctx, "alice", 1, turns("t1", "t2", "t3")); err != nil {
		t.Fatalf("second SaveTurns: %v", err)
	}
	conv, err = store.Get(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("Get after resave: %v", err)
	}
	if len(conv.Turns) != 3 {
		t.Errorf("turns = %d, want 3", len(conv.Turns))
	}
	if !conv.CreatedAt.Equal(created) {
		t.Errorf("created_at changed: %v -> %v", created, conv.CreatedAt)
	}

	if _, err := store.Get(ctx, "alice", 9); !errors.Is(err, convstore.ErrNotFound) {
		t.Errorf("Get missing id err = %v, want ErrNotFound", err)
	}
	if _, err := store.Get(ctx, "bob", 1); !errors.Is(err, convstore.ErrNotFound) {
		t.Errorf("Get other user err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTopicSummary_UniquePerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for id := 1; id <= 2; id++ {
		if _, err := store.ReserveNextID(ctx, "alice"); err != nil {
			t.Fatalf("ReserveNextID: %v", err)
		}
		if err := store.SaveTurns(ctx, "alice", id, turns("hello")); err != nil {
			t.Fatalf("SaveTurns %d: %v", id, err)
		}
	}

	final, err := store.UpdateTopicSummary(ctx, "alice", 1, "Trip Planning", "flights and hotels")
	if err != nil {
		t.Fatalf("UpdateTopicSummary: %v", err)
	}
	if final != "Trip Planning" {
		t.Errorf("topic = %q, want unchanged", final)
	}

	// Same topic on another conversation picks up a suffix; case and spacing
	// do not dodge the collision.
	final, err = store.UpdateTopicSummary(ctx, "alice", 2, "trip   planning", "more flights")
	if err != nil {
		t.Fatalf("UpdateTopicSummary 2: %v", err)
	}
	if final != "trip   planning 1" {
		t.Errorf("topic = %q, want suffixed", final)
	}

	// Re-stamping a conversation with its own topic is not a collision.
	final, err = store.UpdateTopicSummary(ctx, "alice", 1, "Trip Planning", "updated summary")
	if err != nil {
		t.Fatalf("re-stamp: %v", err)
	}
	if final != "Trip Planning" {
		t.Errorf("re-stamped topic = %q, want unchanged", final)
	}

	if _, err := store.UpdateTopicSummary(ctx, "alice", 9, "x", "y"); !errors.Is(err, convstore.ErrNotFound) {
		t.Errorf("missing id err = %v, want ErrNotFound", err)
	}

	conv, err := store.GetByTopic(ctx, "alice", "  TRIP planning ")
	if err != nil {
		t.Fatalf("GetByTopic: %v", err)
	}
	if conv.ID != 1 {
		t.Errorf("GetByTopic id = %d, want 1", conv.ID)
	}
}

func TestList_OrdersByRecency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for id := 1; id <= 3; id++ {
		if _, err := store.ReserveNextID(ctx, "alice"); err != nil {
			t.Fatalf("ReserveNextID: %v", err)
		}
		if err := store.SaveTurns(ctx, "alice", id, turns("a", "b")); err != nil {
			t.Fatalf("SaveTurns %d: %v", id, err)
		}
	}
	// Touch conversation 1 last so it sorts first.
	if err := store.SaveTurns(ctx, "alice", 1, turns("a", "b", "c")); err != nil {
		t.Fatalf("resave: %v", err)
	}

	list, err := store.List(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List = %d entries, want 3", len(list))
	}
	if list[0].ID != 1 {
		t.Errorf("most recent id = %d, want 1", list[0].ID)
	}
	if list[0].TurnCount != 3 {
		t.Errorf("turn count = %d, want 3", list[0].TurnCount)
	}

	limited, err := store.List(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited List = %d entries, want 2", len(limited))
	}

	empty, err := store.List(ctx, "nobody", 0)
	if err != nil {
		t.Fatalf("List unknown user: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown user List = %d entries, want 0", len(empty))
	}
}

func TestDumpAll_GroupsByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		if _, err := store.ReserveNextID(ctx, user); err != nil {
			t.Fatalf("ReserveNextID %s: %v", user, err)
		}
		if err := store.SaveTurns(ctx, user, 1, turns("hi from "+user)); err != nil {
			t.Fatalf("SaveTurns %s: %v", user, err)
		}
	}

	dump, err := store.DumpAll(ctx)
	if err != nil {
		t.Fatalf("DumpAll: %v", err)
	}
	if len(dump) != 2 {
		t.Fatalf("DumpAll users = %d, want 2", len(dump))
	}
	if len(dump["alice"]) != 1 || dump["alice"][0].Turns[0].Summary != "hi from alice" {
		t.Errorf("alice dump = %+v", dump["alice"])
	}
	if len(dump["bob"]) != 1 {
		t.Errorf("bob dump = %+v", dump["bob"])
	}
}
