package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlUtteranceCache returns the utterance cache DDL with the embedding
// dimension substituted. The vector dimension is baked into the column type
// at schema creation time.
func ddlUtteranceCache(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS utterance_cache (
    id          BIGSERIAL    PRIMARY KEY,
    workflow    TEXT         NOT NULL,
    utterance   TEXT         NOT NULL,
    command     TEXT         NOT NULL,
    flag        INT          NOT NULL DEFAULT 0,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (workflow, utterance)
);

CREATE INDEX IF NOT EXISTS idx_utterance_cache_workflow
    ON utterance_cache (workflow);

CREATE INDEX IF NOT EXISTS idx_utterance_cache_embedding
    ON utterance_cache USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the utterance cache table and the pgvector
// extension exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE
// INDEX IF NOT EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires
// a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlUtteranceCache(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
