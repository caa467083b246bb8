// Package feedback appends an operational audit log of user feedback.
//
// The durable copy of feedback lives on the conversation turn itself (the
// runtime overwrites the last turn's feedback and persists it with the
// conversation); the audit log is a flat append-only JSONL file that keeps
// every submission, including ones later overwritten, for offline analysis
// across users and conversations.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fastworkflow/fastworkflow/internal/server"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// Compile-time interface check.
var _ server.FeedbackLog = (*Log)(nil)

// Record is a single feedback entry written to the audit log.
type Record struct {
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id"`
	ConversationID int       `json:"conversation_id"`
	Score          *float64  `json:"binary_or_numeric_score,omitempty"`
	Text           string    `json:"nl_feedback,omitempty"`
}

// Log persists feedback as JSON lines in a local file.
// Thread-safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a Log that writes to the given path.
// The file is created if it does not exist.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append writes one feedback record to the log.
func (l *Log) Append(userID string, conversationID int, fb types.Feedback) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := Record{
		Timestamp:      time.Now().UTC(),
		UserID:         userID,
		ConversationID: conversationID,
		Score:          fb.Score,
		Text:           fb.Text,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}
