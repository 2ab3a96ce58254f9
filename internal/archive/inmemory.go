package archive

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps turn records in process for local use.
type InMemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]TurnRecord
	byConv map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:   make(map[string]TurnRecord),
		byConv: make(map[string][]string),
	}
}

func (s *InMemoryStore) Save(_ context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}
	record.Citations = slices.Clone(record.Citations)
	record.SuggestedActions = slices.Clone(record.SuggestedActions)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[record.ID]; !ok {
		s.byConv[record.ConversationID] = append(s.byConv[record.ConversationID], record.ID)
	}
	s.byID[record.ID] = record
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return TurnRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns the most recent records of a conversation in chronological order.
func (s *InMemoryStore) List(_ context.Context, conversationID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byConv[conversationID]
	if len(ids) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	out := make([]TurnRecord, 0, limit)
	for _, id := range ids[len(ids)-limit:] {
		out = append(out, s.byID[id])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
