package store

import (
	"context"
	"sort"
	"sync"

	"private-chat/backend/internal/models"
)

// MemoryStore keeps messages in process memory. Used for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []models.Message
	seq      uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			return ErrDuplicateMessage
		}
	}
	s.seq++
	msg.Seq = s.seq
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) OrderedRead(ctx context.Context, limit int, order Order) ([]models.Message, error) {
	s.mu.RLock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	if order == Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	for _, m := range s.messages {
		if _, ok := drop[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
