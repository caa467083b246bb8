package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlConversations holds the conversation log and the per-user id sequence.
// Turns are stored as a JSONB document per conversation: the runtime always
// writes the full turn list, so a row per turn would only add join cost.
const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    user_id     TEXT         NOT NULL,
    id          INT          NOT NULL,
    topic       TEXT         NOT NULL DEFAULT '',
    topic_norm  TEXT         NOT NULL DEFAULT '',
    summary     TEXT         NOT NULL DEFAULT '',
    turns       JSONB        NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, id)
);

CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
    ON conversations (user_id, updated_at DESC);

CREATE INDEX IF NOT EXISTS idx_conversations_user_topic
    ON conversations (user_id, topic_norm);

CREATE TABLE IF NOT EXISTS conversation_sequences (
    user_id  TEXT  PRIMARY KEY,
    last_id  INT   NOT NULL DEFAULT 0
);
`

// Migrate creates or ensures the conversation tables exist. It is idempotent
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversations); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
