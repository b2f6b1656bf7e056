// Package store persists conversation turns and provider thread handles in
// SQLite. The gateway only depends on the narrow interfaces in
// internal/domain; this is the single concrete implementation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chatrelay/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConversationStore and domain.ThreadStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     TEXT NOT NULL,
		platform    TEXT NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_pair ON turns(user_id, platform, created_at);

	CREATE TABLE IF NOT EXISTS threads (
		user_id     TEXT NOT NULL,
		platform    TEXT NOT NULL,
		thread_id   TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, platform)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, turn domain.ChatTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (user_id, platform, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		turn.UserID, turn.Platform, turn.Role, turn.Content, turn.CreatedAt,
	)
	return err
}

// Recent returns up to limit turns for the pair, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, userID, platform string, limit int) ([]domain.ChatTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, platform, role, content, created_at FROM (
			SELECT user_id, platform, role, content, created_at, id
			FROM turns WHERE user_id = ? AND platform = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`,
		userID, platform, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.ChatTurn
	for rows.Next() {
		var t domain.ChatTurn
		if err := rows.Scan(&t.UserID, &t.Platform, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLiteStore) Clear(ctx context.Context, userID, platform string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE user_id = ? AND platform = ?`, userID, platform,
	)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Thread returns the provider thread handle for the pair, or "" when none
// has been saved.
func (s *SQLiteStore) Thread(ctx context.Context, userID, platform string) (string, error) {
	var threadID string
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id FROM threads WHERE user_id = ? AND platform = ?`,
		userID, platform,
	).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *SQLiteStore) SaveThread(ctx context.Context, userID, platform, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (user_id, platform, thread_id) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, platform) DO UPDATE SET thread_id = excluded.thread_id`,
		userID, platform, threadID,
	)
	return err
}

func (s *SQLiteStore) DeleteThread(ctx context.Context, userID, platform string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM threads WHERE user_id = ? AND platform = ?`, userID, platform,
	)
	return err
}

// Prune deletes turns older than the retention window. Run at startup.
func (s *SQLiteStore) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned old conversation turns", "removed", n, "retention_days", retentionDays)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
