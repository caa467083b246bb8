// Package convstore persists completed conversations per user.
//
// Each user owns an ordered log of conversations with monotonically
// increasing ids. The runtime reserves an id when a conversation starts,
// incrementally saves turns under it after every successful exchange, and
// stamps a generated topic and summary when the conversation rotates. Topics
// are unique per user after case and whitespace normalization; collisions
// get an integer suffix.
//
// Two implementations exist: [github.com/fastworkflow/fastworkflow/internal/convstore/sqlite]
// keeps one key/value database per user under a `<user_id>.rdb` directory,
// and [github.com/fastworkflow/fastworkflow/internal/convstore/postgres]
// keeps all users in a shared pair of tables.
package convstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// ErrNotFound is returned when a conversation id or topic does not exist for
// the given user.
var ErrNotFound = errors.New("convstore: conversation not found")

// Store is the per-user conversation log.
//
// Implementations must be safe for concurrent use. Callers serialise writes
// per user (the runtime holds a per-user lock across reserve/save/update
// sequences); implementations only need to keep concurrent users apart.
type Store interface {
	// ReserveNextID atomically increments and returns the user's conversation
	// id counter. Reserved ids are never reissued, so a crash between reserve
	// and the first SaveTurns leaves a gap rather than a duplicate.
	ReserveNextID(ctx context.Context, userID string) (int, error)

	// SaveTurns writes the full turn list of the conversation with the given
	// id, creating the record on first save. Topic, summary and created_at of
	// an existing record are preserved; updated_at is refreshed.
	SaveTurns(ctx context.Context, userID string, id int, turns []types.Turn) error

	// UpdateTopicSummary stamps the conversation's generated topic and
	// summary. The topic is made unique among the user's conversations by
	// appending an integer suffix when its normalized form is already taken.
	// The final (possibly suffixed) topic is returned.
	// Returns [ErrNotFound] if the conversation does not exist.
	UpdateTopicSummary(ctx context.Context, userID string, id int, topic, summary string) (string, error)

	// Get returns the conversation with the given id, or [ErrNotFound].
	Get(ctx context.Context, userID string, id int) (*types.Conversation, error)

	// GetByTopic returns the conversation whose normalized topic equals the
	// normalized form of topic, or [ErrNotFound].
	GetByTopic(ctx context.Context, userID, topic string) (*types.Conversation, error)

	// List returns conversation summaries ordered by updated_at descending
	// (most recently touched first). A non-positive limit returns all.
	List(ctx context.Context, userID string, limit int) ([]types.ConversationSummary, error)

	// DumpAll returns every stored conversation keyed by user id, each user's
	// list ordered by conversation id ascending.
	DumpAll(ctx context.Context) (map[string][]types.Conversation, error)

	// Close releases the backing resources.
	Close() error
}

// NormalizeTopic lowercases a topic and collapses whitespace runs into single
// spaces. Two topics are considered the same when their normalized forms are
// equal.
func NormalizeTopic(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// UniqueTopic returns topic unchanged when its normalized form is not in
// taken, otherwise the first "topic N" (smallest N >= 1) whose normalized
// form is free. taken holds the normalized topics already in use.
func UniqueTopic(topic string, taken map[string]bool) string {
	if !taken[NormalizeTopic(topic)] {
		return topic
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s %d", topic, n)
		if !taken[NormalizeTopic(candidate)] {
			return candidate
		}
	}
}
