package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

const (
	// All sessions live under one key as a serialized array.
	defaultStoreKey      = "solana:chat:sessions"
	maxResponseSizeBytes = 2 << 20
)

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithStoreKey(key string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			s.key = trimmed
		}
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore persists the session array in Upstash Redis via REST.
// There is one logical writer per deployment, so load-modify-store on the
// single key keeps last-write-wins semantics.
type UpstashRedisStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	key        string
	now        func() time.Time
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		key: defaultStoreKey,
		now: time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store, nil
}

func (s *UpstashRedisStore) Save(ctx context.Context, id string, messages []contractx.Message) error {
	if id == "" || len(messages) == 0 {
		return nil
	}

	sessions, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	title := DeriveTitle(messages)
	rest := make([]Session, 0, len(sessions))
	for _, existing := range sessions {
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
	return s.storeAll(ctx, append([]Session{updated}, rest...))
}

func (s *UpstashRedisStore) Get(ctx context.Context, id string) (*Session, error) {
	sessions, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range sessions {
		if existing.ID == id {
			out := existing
			return &out, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (s *UpstashRedisStore) List(ctx context.Context) ([]Session, error) {
	return s.loadAll(ctx)
}

func (s *UpstashRedisStore) Delete(ctx context.Context, id string) error {
	sessions, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	rest := make([]Session, 0, len(sessions))
	changed := false
	for _, existing := range sessions {
		if existing.ID == id {
			changed = true
			continue
		}
		rest = append(rest, existing)
	}
	if !changed {
		return nil
	}
	return s.storeAll(ctx, rest)
}

func (s *UpstashRedisStore) loadAll(ctx context.Context) ([]Session, error) {
	resp, err := s.exec(ctx, []any{"GET", s.key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, nil
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}

	var sessions []Session
	if err := json.Unmarshal([]byte(encoded), &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal sessions: %w", err)
	}
	return sessions, nil
}

func (s *UpstashRedisStore) storeAll(ctx context.Context, sessions []Session) error {
	payload, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	_, err = s.exec(ctx, []any{"SET", s.key, string(payload)})
	return err
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}
