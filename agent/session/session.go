package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

var ErrSessionNotFound = errors.New("session not found")

// maxTitleLen bounds the sidebar display title.
const maxTitleLen = 45

const defaultTitle = "New chat"

// Session is one persisted chat thread. Title is fixed at first save and
// never recomputed; Messages are replaced wholesale on every save.
type Session struct {
	ID        string              `json:"id"`
	Title     string              `json:"title"`
	Messages  []contractx.Message `json:"messages"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// Store is the persistence contract for chat sessions. List returns
// sessions ordered by recency (most recently saved first). Deleting an
// unknown id is a no-op.
type Store interface {
	Save(ctx context.Context, id string, messages []contractx.Message) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]Session, error)
	Delete(ctx context.Context, id string) error
}

// NewID mints an opaque session id.
func NewID() string {
	return uuid.NewString()
}

// DeriveTitle extracts a display title from the first user-authored text
// part, truncated to the sidebar width.
func DeriveTitle(messages []contractx.Message) string {
	for _, msg := range messages {
		if msg.Role != contractx.RoleUser {
			continue
		}
		for _, part := range msg.Parts {
			if part.Type != contractx.PartText {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			runes := []rune(text)
			if len(runes) > maxTitleLen {
				return string(runes[:maxTitleLen])
			}
			return text
		}
		break
	}
	return defaultTitle
}
