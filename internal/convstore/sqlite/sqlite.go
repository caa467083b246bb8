// Package sqlite provides a file-backed [convstore.Store]. Each user owns a
// `<user_id>.rdb` directory under the store root holding a single key/value
// database with two kinds of keys:
//
//	meta      the user's id and last reserved conversation id
//	conv:<id> one conversation record, JSON-encoded
//
// Per-user directories keep users trivially separable: deleting a user's
// data is deleting a directory, and a dump walks the root.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

const (
	userDirSuffix = ".rdb"
	dbFileName    = "store.db"
	metaKey       = "meta"
	convKeyPrefix = "conv:"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// meta is the JSON value stored under the meta key.
type meta struct {
	UserID             string `json:"user_id"`
	LastConversationID int    `json:"last_conversation_id"`
}

// Store is a sqlite-backed conversation store rooted at a directory.
//
// All methods are safe for concurrent use.
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB // keyed by user directory name
}

// Compile-time check that Store satisfies convstore.Store.
var _ convstore.Store = (*Store)(nil)

// New creates a Store rooted at dir, creating the directory if missing.
// User databases are opened lazily on first access and held open until
// [Store.Close].
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("sqlite: conversation store root is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create conversation store root: %w", err)
	}
	return &Store{root: dir, dbs: make(map[string]*sql.DB)}, nil
}

// ReserveNextID implements [convstore.Store].
func (s *Store) ReserveNextID(ctx context.Context, userID string) (int, error) {
	db, err := s.userDB(userID)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reserve conversation id: %w", err)
	}
	defer tx.Rollback()

	m, err := loadMeta(ctx, tx)
	if err != nil {
		return 0, err
	}
	m.LastConversationID++
	if err := saveMeta(ctx, tx, m); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: reserve conversation id: %w", err)
	}
	return m.LastConversationID, nil
}

// SaveTurns implements [convstore.Store].
func (s *Store) SaveTurns(ctx context.Context, userID string, id int, turns []types.Turn) error {
	db, err := s.userDB(userID)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: save turns: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	conv, err := loadConv(ctx, tx, id)
	if errors.Is(err, convstore.ErrNotFound) {
		conv = &types.Conversation{ID: id, CreatedAt: now}
	} else if err != nil {
		return err
	}
	conv.Turns = turns
	conv.UpdatedAt = now

	if err := saveConv(ctx, tx, conv); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: save turns: %w", err)
	}
	return nil
}

// UpdateTopicSummary implements [convstore.Store].
func (s *Store) UpdateTopicSummary(ctx context.Context, userID string, id int, topic, summary string) (string, error) {
	db, err := s.userDB(userID)
	if err != nil {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: update topic: %w", err)
	}
	defer tx.Rollback()

	conv, err := loadConv(ctx, tx, id)
	if err != nil {
		return "", err
	}

	others, err := allConvs(ctx, tx)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(others))
	for _, o := range others {
		if o.ID != id && o.Topic != "" {
			taken[convstore.NormalizeTopic(o.Topic)] = true
		}
	}

	final := convstore.UniqueTopic(topic, taken)
	conv.Topic = final
	conv.Summary = summary
	conv.UpdatedAt = time.Now().UTC()

	if err := saveConv(ctx, tx, conv); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: update topic: %w", err)
	}
	return final, nil
}

// Get implements [convstore.Store].
func (s *Store) Get(ctx context.Context, userID string, id int) (*types.Conversation, error) {
	db, err := s.userDB(userID)
	if err != nil {
		return nil, err
	}
	return loadConv(ctx, db, id)
}

// GetByTopic implements [convstore.Store].
func (s *Store) GetByTopic(ctx context.Context, userID, topic string) (*types.Conversation, error) {
	db, err := s.userDB(userID)
	if err != nil {
		return nil, err
	}
	convs, err := allConvs(ctx, db)
	if err != nil {
		return nil, err
	}
	want := convstore.NormalizeTopic(topic)
	for _, c := range convs {
		if c.Topic != "" && convstore.NormalizeTopic(c.Topic) == want {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: topic %q", convstore.ErrNotFound, topic)
}

// List implements [convstore.Store].
func (s *Store) List(ctx context.Context, userID string, limit int) ([]types.ConversationSummary, error) {
	db, err := s.userDB(userID)
	if err != nil {
		return nil, err
	}
	convs, err := allConvs(ctx, db)
	if err != nil {
		return nil, err
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID > convs[j].ID
	})

	out := make([]types.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, types.ConversationSummary{
			ID:        c.ID,
			Topic:     c.Topic,
			Summary:   c.Summary,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
			TurnCount: len(c.Turns),
		})
	}
	return out, nil
}

// DumpAll implements [convstore.Store]. It walks every `.rdb` directory under
// the root, including users whose database is not currently open.
func (s *Store) DumpAll(ctx context.Context) (map[string][]types.Conversation, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read conversation store root: %w", err)
	}

	out := make(map[string][]types.Conversation)
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), userDirSuffix) {
			continue
		}
		userID, convs, err := s.dumpDir(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		out[userID] = convs
	}
	return out, nil
}

// Close closes every open user database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for dir, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sqlite: close %s: %w", dir, err))
		}
	}
	s.dbs = make(map[string]*sql.DB)
	return errors.Join(errs...)
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-user database management
// ─────────────────────────────────────────────────────────────────────────────

// userDB returns the open database for userID, opening and initialising it on
// first access.
func (s *Store) userDB(userID string) (*sql.DB, error) {
	if userID == "" {
		return nil, fmt.Errorf("sqlite: empty user id")
	}
	dir := userDirName(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[dir]; ok {
		return db, nil
	}
	db, err := openUserDB(filepath.Join(s.root, dir), userID)
	if err != nil {
		return nil, err
	}
	s.dbs[dir] = db
	return db, nil
}

// openUserDB creates the user directory, opens its database and seeds the
// meta key on first creation.
func openUserDB(dir, userID string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create user dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open user store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: initialize user store schema: %w", err)
	}

	initial, err := json.Marshal(meta{UserID: userID})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: marshal meta: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`, metaKey, string(initial)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: seed meta: %w", err)
	}
	return db, nil
}

// dumpDir reads every conversation out of one user directory, reusing the
// open handle when there is one.
func (s *Store) dumpDir(ctx context.Context, dir string) (string, []types.Conversation, error) {
	s.mu.Lock()
	db, open := s.dbs[dir]
	s.mu.Unlock()

	if !open {
		var err error
		db, err = sql.Open("sqlite", filepath.Join(s.root, dir, dbFileName))
		if err != nil {
			return "", nil, fmt.Errorf("sqlite: open %s for dump: %w", dir, err)
		}
		defer db.Close()
	}

	m, err := loadMeta(ctx, db)
	if err != nil {
		return "", nil, err
	}
	userID := m.UserID
	if userID == "" {
		userID = strings.TrimSuffix(dir, userDirSuffix)
	}

	convs, err := allConvs(ctx, db)
	if err != nil {
		return "", nil, err
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].ID < convs[j].ID })

	out := make([]types.Conversation, len(convs))
	for i, c := range convs {
		out[i] = *c
	}
	return userID, out, nil
}

// userDirName maps a user id onto a filesystem-safe directory name. Runes
// outside [A-Za-z0-9._-] become underscores; the stored meta key keeps the
// original id for dumps.
func userDirName(userID string) string {
	var b strings.Builder
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String() + userDirSuffix
}

// ─────────────────────────────────────────────────────────────────────────────
// Key/value access
// ─────────────────────────────────────────────────────────────────────────────

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func loadMeta(ctx context.Context, q querier) (meta, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, metaKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return meta{}, nil
	}
	if err != nil {
		return meta{}, fmt.Errorf("sqlite: load meta: %w", err)
	}
	var m meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return meta{}, fmt.Errorf("sqlite: decode meta: %w", err)
	}
	return m, nil
}

func saveMeta(ctx context.Context, q querier, m meta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("sqlite: marshal meta: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		metaKey, string(raw),
	); err != nil {
		return fmt.Errorf("sqlite: save meta: %w", err)
	}
	return nil
}

func loadConv(ctx context.Context, q querier, id int) (*types.Conversation, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, convKey(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", convstore.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load conversation %d: %w", id, err)
	}
	var c types.Conversation
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("sqlite: decode conversation %d: %w", id, err)
	}
	return &c, nil
}

func saveConv(ctx context.Context, q querier, c *types.Conversation) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("sqlite: marshal conversation %d: %w", c.ID, err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		convKey(c.ID), string(raw),
	); err != nil {
		return fmt.Errorf("sqlite: save conversation %d: %w", c.ID, err)
	}
	return nil
}

func allConvs(ctx context.Context, q querier) ([]*types.Conversation, error) {
	rows, err := q.QueryContext(ctx, `SELECT value FROM kv WHERE key LIKE ?`, convKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan conversations: %w", err)
	}
	defer rows.Close()

	var out []*types.Conversation
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation row: %w", err)
		}
		var c types.Conversation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("sqlite: decode conversation: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan conversations: %w", err)
	}
	return out, nil
}

func convKey(id int) string {
	return fmt.Sprintf("%s%d", convKeyPrefix, id)
}
