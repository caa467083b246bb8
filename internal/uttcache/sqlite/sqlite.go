// Package sqlite provides a SQLite-backed [uttcache.Cache] stored inside the
// workflow folder itself, at <workflow>/___convo_info/cache.db. The cache
// travels with the workflow: copying the folder copies everything it has
// learned, and deleting the folder leaves nothing behind.
//
// Embeddings are stored as little-endian float32 blobs and searched by a
// brute-force scan with cosine similarity computed in Go. Utterance caches
// hold at most a few thousand rows per workflow, well under the point where
// an ANN index would pay for itself.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/fastworkflow/fastworkflow/internal/uttcache"
)

const (
	infoDirName   = "___convo_info"
	cacheFileName = "cache.db"
)

const schema = `
CREATE TABLE IF NOT EXISTS utterance_cache (
    utterance  TEXT      PRIMARY KEY,
    command    TEXT      NOT NULL,
    flag       INTEGER   NOT NULL DEFAULT 0,
    embedding  BLOB      NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Cache is a SQLite-backed utterance cache for a single workflow.
//
// All methods are safe for concurrent use; the modernc driver serialises
// writers internally.
type Cache struct {
	db   *sql.DB
	path string
}

// Compile-time check that Cache satisfies uttcache.Cache.
var _ uttcache.Cache = (*Cache)(nil)

// Open creates or opens the utterance cache for the workflow rooted at
// workflowRoot. The ___convo_info directory is created if missing. The
// leading underscores keep the directory out of workflow loading, which
// skips underscore-prefixed entries.
func Open(workflowRoot string) (*Cache, error) {
	if workflowRoot == "" {
		return nil, fmt.Errorf("sqlite: open utterance cache: empty workflow root")
	}
	dir := filepath.Join(workflowRoot, infoDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create %s dir: %w", infoDirName, err)
	}

	path := filepath.Join(dir, cacheFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: initialize utterance cache schema: %w", err)
	}
	return &Cache{db: db, path: path}, nil
}

// Path returns the location of the backing cache.db file.
func (c *Cache) Path() string { return c.path }

// Add implements [uttcache.Cache]. Entries are keyed by utterance; adding an
// utterance that already exists replaces its command, flag and embedding.
func (c *Cache) Add(ctx context.Context, e uttcache.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	const q = `
		INSERT INTO utterance_cache (utterance, command, flag, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (utterance) DO UPDATE SET
		    command   = excluded.command,
		    flag      = excluded.flag,
		    embedding = excluded.embedding`
	if _, err := c.db.ExecContext(ctx, q, e.Utterance, e.Command, e.Flag, encodeVector(e.Embedding)); err != nil {
		return fmt.Errorf("sqlite: add utterance cache entry: %w", err)
	}
	return nil
}

// Nearest implements [uttcache.Cache]. It scans every stored entry and
// returns the one with the highest cosine similarity to the query embedding,
// or (nil, nil) when the cache is empty.
func (c *Cache) Nearest(ctx context.Context, embedding []float32) (*uttcache.Hit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("sqlite: nearest: empty query embedding")
	}

	rows, err := c.db.QueryContext(ctx, `SELECT utterance, command, flag, embedding FROM utterance_cache`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan utterance cache: %w", err)
	}
	defer rows.Close()

	var best *uttcache.Hit
	for rows.Next() {
		var (
			e    uttcache.Entry
			blob []byte
		)
		if err := rows.Scan(&e.Utterance, &e.Command, &e.Flag, &blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan utterance cache row: %w", err)
		}
		e.Embedding = decodeVector(blob)
		sim := uttcache.Cosine(embedding, e.Embedding)
		if best == nil || sim > best.Similarity {
			best = &uttcache.Hit{Entry: e, Similarity: sim}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan utterance cache: %w", err)
	}
	return best, nil
}

// Purge implements [uttcache.Cache].
func (c *Cache) Purge(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM utterance_cache`); err != nil {
		return fmt.Errorf("sqlite: purge utterance cache: %w", err)
	}
	return nil
}

// Close implements [uttcache.Cache].
func (c *Cache) Close() error {
	return c.db.Close()
}

// encodeVector packs a float32 slice into a little-endian blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a little-endian blob into a float32 slice. Truncated
// blobs decode to nil, which [uttcache.Cosine] treats as not similar to
// anything.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
