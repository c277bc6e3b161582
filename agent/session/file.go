package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

// FileStore persists the whole session list as one JSON array with atomic
// replace. The in-memory copy is authoritative; a failed write degrades to
// "nothing persisted this round" and is retried implicitly on the next
// save, so Save never surfaces disk errors.
type FileStore struct {
	mu       sync.Mutex
	path     string
	sessions []Session
	now      func() time.Time
}

func NewFileStore(path string) *FileStore {
	store := &FileStore{
		path: path,
		now:  time.Now,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(raw, &store.sessions); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("session file unreadable, starting empty")
			store.sessions = nil
		}
	} else if !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("session file unreadable, starting empty")
	}

	return store
}

func (s *FileStore) Save(_ context.Context, id string, messages []contractx.Message) error {
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
	s.persistLocked()
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (*Session, error) {
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

func (s *FileStore) List(_ context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rest := s.sessions[:0]
	changed := false
	for _, existing := range s.sessions {
		if existing.ID == id {
			changed = true
			continue
		}
		rest = append(rest, existing)
	}
	s.sessions = rest
	if changed {
		s.persistLocked()
	}
	return nil
}

func (s *FileStore) persistLocked() {
	payload, err := json.Marshal(s.sessions)
	if err != nil {
		log.Warn().Err(err).Msg("marshal sessions failed, skipping persist")
		return
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("session dir unavailable, skipping persist")
		return
	}
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		log.Warn().Err(err).Str("path", tmp).Msg("session write failed, skipping persist")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("session replace failed, skipping persist")
	}
}
