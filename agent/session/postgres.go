package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/CallejaJ/solana-ai/agent/contract"
)

type PostgresConfig struct {
	DSN string `envconfig:"DSN" split_words:"true" required:"true"`
}

type sessionRow struct {
	bun.BaseModel `bun:"table:chat_sessions,alias:cs"`

	ID        string          `bun:"id,pk"`
	Title     string          `bun:"title,notnull"`
	Messages  json.RawMessage `bun:"messages,type:jsonb,notnull"`
	UpdatedAt time.Time       `bun:"updated_at,notnull"`
}

// PostgresStore keeps one row per session. Upserts never touch the title
// column on conflict, which pins the title to the first save.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	db := bun.NewDB(sqldb, pgdialect.New())

	return &PostgresStore{
		db:  db,
		now: time.Now,
	}, nil
}

// Init creates the sessions table when it does not exist yet.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, id string, messages []contractx.Message) error {
	if id == "" || len(messages) == 0 {
		return nil
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	row := &sessionRow{
		ID:        id,
		Title:     DeriveTitle(messages),
		Messages:  payload,
		UpdatedAt: s.now().UTC(),
	}

	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("messages = EXCLUDED.messages").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	row := new(sessionRow)
	err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return rowToSession(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]Session, error) {
	var rows []sessionRow
	err := s.db.NewSelect().
		Model(&rows).
		Order("updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]Session, 0, len(rows))
	for i := range rows {
		converted, err := rowToSession(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *converted)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func rowToSession(row *sessionRow) (*Session, error) {
	var messages []contractx.Message
	if len(row.Messages) > 0 {
		if err := json.Unmarshal(row.Messages, &messages); err != nil {
			return nil, fmt.Errorf("unmarshal session messages: %w", err)
		}
	}
	return &Session{
		ID:        row.ID,
		Title:     row.Title,
		Messages:  messages,
		UpdatedAt: row.UpdatedAt,
	}, nil
}
