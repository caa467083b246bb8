// Package postgres provides a PostgreSQL-backed [convstore.Store]. All users
// share one conversations table scoped by a user_id column, so a fleet of
// fastworkflow instances behind a load balancer sees the same conversation
// history.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// Store is a PostgreSQL-backed conversation store.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time check that Store satisfies convstore.Store.
var _ convstore.Store = (*Store)(nil)

// New creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the conversation tables
// exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres conversation store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres conversation store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres conversation store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres conversation store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// ReserveNextID implements [convstore.Store]. The upsert increments the
// user's sequence row atomically, so concurrent reservations for the same
// user never collide.
func (s *Store) ReserveNextID(ctx context.Context, userID string) (int, error) {
	const q = `
		INSERT INTO conversation_sequences (user_id, last_id)
		VALUES ($1, 1)
		ON CONFLICT (user_id) DO UPDATE SET last_id = conversation_sequences.last_id + 1
		RETURNING last_id`

	var id int
	if err := s.pool.QueryRow(ctx, q, userID).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres conversation store: reserve id: %w", err)
	}
	return id, nil
}

// SaveTurns implements [convstore.Store]. Topic, summary and created_at of an
// existing row are preserved; updated_at is refreshed.
func (s *Store) SaveTurns(ctx context.Context, userID string, id int, turns []types.Turn) error {
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("postgres conversation store: marshal turns: %w", err)
	}

	const q = `
		INSERT INTO conversations (user_id, id, turns)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, id) DO UPDATE SET
		    turns      = EXCLUDED.turns,
		    updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, userID, id, raw); err != nil {
		return fmt.Errorf("postgres conversation store: save turns: %w", err)
	}
	return nil
}

// UpdateTopicSummary implements [convstore.Store]. Uniqueness is computed
// against the user's other conversations; the runtime serialises flushes per
// user, so the read-then-write pair does not race with itself.
func (s *Store) UpdateTopicSummary(ctx context.Context, userID string, id int, topic, summary string) (string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT topic_norm FROM conversations WHERE user_id = $1 AND id <> $2 AND topic_norm <> ''`,
		userID, id)
	if err != nil {
		return "", fmt.Errorf("postgres conversation store: list topics: %w", err)
	}
	norms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("postgres conversation store: scan topics: %w", err)
	}
	taken := make(map[string]bool, len(norms))
	for _, n := range norms {
		taken[n] = true
	}

	final := convstore.UniqueTopic(topic, taken)
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET topic = $3, topic_norm = $4, summary = $5, updated_at = now()
		 WHERE user_id = $1 AND id = $2`,
		userID, id, final, convstore.NormalizeTopic(final), summary)
	if err != nil {
		return "", fmt.Errorf("postgres conversation store: update topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("%w: id %d", convstore.ErrNotFound, id)
	}
	return final, nil
}

// Get implements [convstore.Store].
func (s *Store) Get(ctx context.Context, userID string, id int) (*types.Conversation, error) {
	const q = `
		SELECT id, topic, summary, turns, created_at, updated_at
		FROM   conversations
		WHERE  user_id = $1 AND id = $2`

	conv, err := scanConversation(s.pool.QueryRow(ctx, q, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", convstore.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres conversation store: get %d: %w", id, err)
	}
	return conv, nil
}

// GetByTopic implements [convstore.Store].
func (s *Store) GetByTopic(ctx context.Context, userID, topic string) (*types.Conversation, error) {
	const q = `
		SELECT id, topic, summary, turns, created_at, updated_at
		FROM   conversations
		WHERE  user_id = $1 AND topic_norm = $2
		LIMIT  1`

	conv, err := scanConversation(s.pool.QueryRow(ctx, q, userID, convstore.NormalizeTopic(topic)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: topic %q", convstore.ErrNotFound, topic)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres conversation store: get by topic: %w", err)
	}
	return conv, nil
}

// List implements [convstore.Store].
func (s *Store) List(ctx context.Context, userID string, limit int) ([]types.ConversationSummary, error) {
	args := []any{userID}
	q := `
		SELECT id, topic, summary, created_at, updated_at, jsonb_array_length(turns)
		FROM   conversations
		WHERE  user_id = $1
		ORDER  BY updated_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres conversation store: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ConversationSummary, error) {
		var cs types.ConversationSummary
		err := row.Scan(&cs.ID, &cs.Topic, &cs.Summary, &cs.CreatedAt, &cs.UpdatedAt, &cs.TurnCount)
		return cs, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres conversation store: scan list: %w", err)
	}
	if out == nil {
		out = []types.ConversationSummary{}
	}
	return out, nil
}

// DumpAll implements [convstore.Store].
func (s *Store) DumpAll(ctx context.Context) (map[string][]types.Conversation, error) {
	const q = `
		SELECT user_id, id, topic, summary, turns, created_at, updated_at
		FROM   conversations
		ORDER  BY user_id, id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres conversation store: dump: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]types.Conversation)
	for rows.Next() {
		var (
			userID string
			c      types.Conversation
			raw    []byte
		)
		if err := rows.Scan(&userID, &c.ID, &c.Topic, &c.Summary, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres conversation store: scan dump row: %w", err)
		}
		if err := json.Unmarshal(raw, &c.Turns); err != nil {
			return nil, fmt.Errorf("postgres conversation store: decode turns: %w", err)
		}
		out[userID] = append(out[userID], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres conversation store: dump: %w", err)
	}
	return out, nil
}

// Close implements [convstore.Store]. It releases all connections held by the
// underlying pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanConversation scans one conversation row, decoding the JSONB turns
// column.
func scanConversation(row pgx.Row) (*types.Conversation, error) {
	var (
		c   types.Conversation
		raw []byte
	)
	if err := row.Scan(&c.ID, &c.Topic, &c.Summary, &raw, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.Turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	return &c, nil
}
