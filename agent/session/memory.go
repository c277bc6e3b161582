package session

import (
	"context"
	"sync"
	"time"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

// MemoryStore keeps sessions in process memory, newest first. Used as the
// fallback backend and as the fixture store in tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions []Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, id string, messages []contractx.Message) error {
	if id == "" || len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	title := DeriveTitle(messages)
	rest := make([]Session, 0, len(s.sessions))
	for _, existing := range s.sessions {
		if existing.ID == id {
			title = existing.Title
			continue
		}
		rest = append(rest, existing)
	}

	updated := Session{
		ID:        id,
		Title:     title,
		Messages:  cloneMessages(messages),
		UpdatedAt: s.now().UTC(),
	}
	s.sessions = append([]Session{updated}, rest...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.ID == id {
			out := existing
			out.Messages = cloneMessages(existing.Messages)
			return &out, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (s *MemoryStore) List(_ context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rest := s.sessions[:0]
	for _, existing := range s.sessions {
		if existing.ID != id {
			rest = append(rest, existing)
		}
	}
	s.sessions = rest
	return nil
}

func cloneMessages(messages []contractx.Message) []contractx.Message {
	out := make([]contractx.Message, len(messages))
	copy(out, messages)
	return out
}
