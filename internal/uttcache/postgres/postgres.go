// Package postgres provides a PostgreSQL-backed [uttcache.Cache] using the
// pgvector extension for nearest-neighbour search. All workflows share one
// utterance_cache table, scoped by a workflow column, so a fleet of
// fastworkflow instances serving the same workflow pool their learned
// utterances.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	cache, err := postgres.New(ctx, dsn, "/srv/workflows/retail", 1536)
//	if err != nil { … }
//	defer cache.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/fastworkflow/fastworkflow/internal/uttcache"
)

// Cache is a pgvector-backed utterance cache scoped to a single workflow.
//
// All methods are safe for concurrent use.
type Cache struct {
	pool     *pgxpool.Pool
	workflow string
	dims     int
}

// Compile-time check that Cache satisfies uttcache.Cache.
var _ uttcache.Cache = (*Cache)(nil)

// New creates a new Cache, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure the utterance_cache table exists.
//
// workflow identifies the workflow this cache serves; it scopes every query
// and is conventionally the workflow's resolved root path. embeddingDimensions
// must match the output dimension of the configured embedding model. Changing
// it after the first migration requires a manual schema change.
func New(ctx context.Context, dsn, workflow string, embeddingDimensions int) (*Cache, error) {
	if workflow == "" {
		return nil, fmt.Errorf("postgres utterance cache: empty workflow")
	}
	if embeddingDimensions <= 0 {
		return nil, fmt.Errorf("postgres utterance cache: embedding dimensions must be positive, got %d", embeddingDimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres utterance cache: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres utterance cache: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres utterance cache: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres utterance cache: migrate: %w", err)
	}

	return &Cache{pool: pool, workflow: workflow, dims: embeddingDimensions}, nil
}

// Add implements [uttcache.Cache]. Entries are keyed by (workflow, utterance);
// adding an utterance that already exists replaces its command, flag and
// embedding.
func (c *Cache) Add(ctx context.Context, e uttcache.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if len(e.Embedding) != c.dims {
		return fmt.Errorf("postgres utterance cache: embedding has %d dimensions, table expects %d", len(e.Embedding), c.dims)
	}

	const q = `
		INSERT INTO utterance_cache (workflow, utterance, command, flag, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow, utterance) DO UPDATE SET
		    command   = EXCLUDED.command,
		    flag      = EXCLUDED.flag,
		    embedding = EXCLUDED.embedding`
	_, err := c.pool.Exec(ctx, q, c.workflow, e.Utterance, e.Command, e.Flag, pgvector.NewVector(e.Embedding))
	if err != nil {
		return fmt.Errorf("postgres utterance cache: add entry: %w", err)
	}
	return nil
}

// Nearest implements [uttcache.Cache]. It returns the stored entry closest
// (by cosine distance) to the query embedding, or (nil, nil) when no entries
// exist for this workflow.
func (c *Cache) Nearest(ctx context.Context, embedding []float32) (*uttcache.Hit, error) {
	if len(embedding) != c.dims {
		return nil, fmt.Errorf("postgres utterance cache: query embedding has %d dimensions, table expects %d", len(embedding), c.dims)
	}

	const q = `
		SELECT utterance, command, flag, embedding,
		       embedding <=> $2 AS distance
		FROM   utterance_cache
		WHERE  workflow = $1
		ORDER  BY distance
		LIMIT  1`

	var (
		hit      uttcache.Hit
		vec      pgvector.Vector
		distance float64
	)
	row := c.pool.QueryRow(ctx, q, c.workflow, pgvector.NewVector(embedding))
	err := row.Scan(&hit.Utterance, &hit.Command, &hit.Flag, &vec, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres utterance cache: nearest: %w", err)
	}
	hit.Embedding = vec.Slice()
	// pgvector's <=> operator yields cosine distance in [0, 2].
	hit.Similarity = 1 - distance
	return &hit, nil
}

// Purge implements [uttcache.Cache]. It removes every entry belonging to
// this cache's workflow; other workflows sharing the table are untouched.
func (c *Cache) Purge(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM utterance_cache WHERE workflow = $1`, c.workflow); err != nil {
		return fmt.Errorf("postgres utterance cache: purge: %w", err)
	}
	return nil
}

// Close implements [uttcache.Cache]. It releases all connections held by the
// underlying pool.
func (c *Cache) Close() error {
	c.pool.Close()
	return nil
}
