// Package mock provides an in-memory test double for the conversation store.
//
// Store implements the full [convstore.Store] contract against process memory
// so runtime and server tests can exercise persistence paths without a
// database. Every method invocation is recorded for assertion, and each
// operation has an error-injection field.
//
// Typical usage:
//
//	store := mock.New()
//	// inject store into the system under test …
//	if got := store.CallCount("SaveTurns"); got != 2 {
//	    t.Errorf("expected 2 SaveTurns calls, got %d", got)
//	}
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fastworkflow/fastworkflow/internal/convstore"
	"github.com/fastworkflow/fastworkflow/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is an in-memory [convstore.Store].
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	lastID map[string]int
	convs  map[string]map[int]*types.Conversation
	closed bool

	// ReserveNextIDErr is returned by ReserveNextID when non-nil.
	ReserveNextIDErr error

	// SaveTurnsErr is returned by SaveTurns when non-nil.
	SaveTurnsErr error

	// UpdateTopicSummaryErr is returned by UpdateTopicSummary when non-nil.
	UpdateTopicSummaryErr error

	// GetErr is returned by Get and GetByTopic when non-nil.
	GetErr error

	// ListErr is returned by List when non-nil.
	ListErr error

	// DumpAllErr is returned by DumpAll when non-nil.
	DumpAllErr error
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		lastID: make(map[string]int),
		convs:  make(map[string]map[int]*types.Conversation),
	}
}

var _ convstore.Store = (*Store)(nil)

func (s *Store) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded invocations in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ReserveNextID implements [convstore.Store].
func (s *Store) ReserveNextID(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ReserveNextID", userID)
	if s.ReserveNextIDErr != nil {
		return 0, s.ReserveNextIDErr
	}
	s.lastID[userID]++
	return s.lastID[userID], nil
}

// SaveTurns implements [convstore.Store].
func (s *Store) SaveTurns(_ context.Context, userID string, id int, turns []types.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SaveTurns", userID, id, len(turns))
	if s.SaveTurnsErr != nil {
		return s.SaveTurnsErr
	}
	user := s.convs[userID]
	if user == nil {
		user = make(map[int]*types.Conversation)
		s.convs[userID] = user
	}
	now := time.Now().UTC()
	conv := user[id]
	if conv == nil {
		conv = &types.Conversation{ID: id, CreatedAt: now}
		user[id] = conv
	}
	conv.Turns = cloneTurns(turns)
	conv.UpdatedAt = now
	return nil
}

// UpdateTopicSummary implements [convstore.Store].
func (s *Store) UpdateTopicSummary(_ context.Context, userID string, id int, topic, summary string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpdateTopicSummary", userID, id, topic, summary)
	if s.UpdateTopicSummaryErr != nil {
		return "", s.UpdateTopicSummaryErr
	}
	user := s.convs[userID]
	conv := user[id]
	if conv == nil {
		return "", convstore.ErrNotFound
	}
	taken := make(map[string]bool, len(user))
	for _, o := range user {
		if o.ID != id && o.Topic != "" {
			taken[convstore.NormalizeTopic(o.Topic)] = true
		}
	}
	final := convstore.UniqueTopic(topic, taken)
	conv.Topic = final
	conv.Summary = summary
	conv.UpdatedAt = time.Now().UTC()
	return final, nil
}

// Get implements [convstore.Store].
func (s *Store) Get(_ context.Context, userID string, id int) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Get", userID, id)
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	conv := s.convs[userID][id]
	if conv == nil {
		return nil, convstore.ErrNotFound
	}
	return cloneConv(conv), nil
}

// GetByTopic implements [convstore.Store].
func (s *Store) GetByTopic(_ context.Context, userID, topic string) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetByTopic", userID, topic)
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	want := convstore.NormalizeTopic(topic)
	for _, conv := range s.convs[userID] {
		if convstore.NormalizeTopic(conv.Topic) == want {
			return cloneConv(conv), nil
		}
	}
	return nil, convstore.ErrNotFound
}

// List implements [convstore.Store].
func (s *Store) List(_ context.Context, userID string, limit int) ([]types.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("List", userID, limit)
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	user := s.convs[userID]
	out := make([]types.ConversationSummary, 0, len(user))
	for _, conv := range user {
		out = append(out, types.ConversationSummary{
			ID:        conv.ID,
			Topic:     conv.Topic,
			Summary:   conv.Summary,
			CreatedAt: conv.CreatedAt,
			UpdatedAt: conv.UpdatedAt,
			TurnCount: len(conv.Turns),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DumpAll implements [convstore.Store].
func (s *Store) DumpAll(_ context.Context) (map[string][]types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DumpAll")
	if s.DumpAllErr != nil {
		return nil, s.DumpAllErr
	}
	out := make(map[string][]types.Conversation, len(s.convs))
	for userID, user := range s.convs {
		list := make([]types.Conversation, 0, len(user))
		for _, conv := range user {
			list = append(list, *cloneConv(conv))
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		out[userID] = list
	}
	return out, nil
}

// Close implements [convstore.Store].
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Close")
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func cloneTurns(turns []types.Turn) []types.Turn {
	out := make([]types.Turn, len(turns))
	copy(out, turns)
	return out
}

func cloneConv(c *types.Conversation) *types.Conversation {
	out := *c
	out.Turns = cloneTurns(c.Turns)
	return &out
}
