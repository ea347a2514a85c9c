// Package sqlite provides a durable Session backend on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loopworks/agentrun/types"
)

//go:embed schema.sql
var schemaSQL string

const defaultBusyTimeout = 5 * time.Second

type Store struct {
	db          *sql.DB
	sessionID   string
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path, sessionID string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}

	s := &Store{
		sessionID:   sessionID,
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewInMemory opens a private in-memory database, useful for tests.
func NewInMemory(sessionID string, opts ...Option) (*Store, error) {
	return New("file::memory:?cache=shared", sessionID, opts...)
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

func (s *Store) GetItems(ctx context.Context, limit int) ([]types.ProtocolItem, error) {
	q := `SELECT item FROM session_items WHERE session_id = ? ORDER BY id ASC;`
	args := []any{s.sessionID}
	if limit > 0 {
		// Latest N, restored to insertion order.
		q = `SELECT item FROM (
  SELECT id, item FROM session_items WHERE session_id = ? ORDER BY id DESC LIMIT ?
) ORDER BY id ASC;`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query session items: %w", err)
	}
	defer rows.Close()

	var items []types.ProtocolItem
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan session item: %w", err)
		}
		var item types.ProtocolItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to decode session item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session items: %w", err)
	}
	return items, nil
}

func (s *Store) AddItems(ctx context.Context, items []types.ProtocolItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	const q = `INSERT INTO session_items (session_id, item, created_at) VALUES (?, ?, ?);`
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode session item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, q, s.sessionID, string(raw), now); err != nil {
			return fmt.Errorf("failed to insert session item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session items: %w", err)
	}
	return nil
}

func (s *Store) PopItem(ctx context.Context) (*types.ProtocolItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id  int64
		raw string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, item FROM session_items WHERE session_id = ? ORDER BY id DESC LIMIT 1;`,
		s.sessionID,
	).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest session item: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_items WHERE id = ?;`, id); err != nil {
		return nil, fmt.Errorf("failed to delete session item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pop: %w", err)
	}

	var item types.ProtocolItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("failed to decode session item: %w", err)
	}
	return &item, nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_items WHERE session_id = ?;`, s.sessionID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
