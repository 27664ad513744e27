// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides chat record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		// busy_timeout is per connection, so it goes in the DSN for the whole pool
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			spreadsheet_id TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_chats_created_at
			ON chats(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('chats') WHERE name = 'spreadsheet_url'`,
			apply:  `ALTER TABLE chats ADD COLUMN spreadsheet_url TEXT`,
			column: "spreadsheet_url",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking column %s: %w", m.column, err)
		}

		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding column %s: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateChat inserts a new chat record.
// Returns ErrDuplicateChat if a chat with the same id exists.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *Chat) error {
	query := `
		INSERT INTO chats (id, created_at, spreadsheet_id, spreadsheet_url)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		chat.ID,
		chat.CreatedAt.UTC().Format(time.RFC3339),
		nullString(chat.SpreadsheetID),
		nullString(chat.SpreadsheetURL),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateChat
		}
		return fmt.Errorf("inserting chat: %w", err)
	}

	s.logger.Debug("created chat", "id", chat.ID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetChat retrieves a chat by id.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	query := `
		SELECT id, created_at, spreadsheet_id, spreadsheet_url
		FROM chats
		WHERE id = ?
	`

	chat, err := scanChat(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat: %w", err)
	}
	return chat, nil
}

// EnsureChat returns the chat with the given id, creating it if absent.
// A concurrent creation of the same id is resolved by re-reading the winner.
func (s *SQLiteStore) EnsureChat(ctx context.Context, id string) (*Chat, error) {
	chat, err := s.GetChat(ctx, id)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	chat = &Chat{ID: id, CreatedAt: time.Now()}
	err = s.CreateChat(ctx, chat)
	if errors.Is(err, ErrDuplicateChat) {
		return s.GetChat(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// SetResource links a spreadsheet to a chat if none is linked yet.
// Returns ErrNotFound if the chat doesn't exist.
func (s *SQLiteStore) SetResource(ctx context.Context, id, spreadsheetID, url string) (*Chat, error) {
	query := `
		UPDATE chats
		SET spreadsheet_id = ?, spreadsheet_url = ?
		WHERE id = ? AND (spreadsheet_id IS NULL OR spreadsheet_id = '')
	`

	res, err := s.db.ExecContext(ctx, query, spreadsheetID, url, id)
	if err != nil {
		return nil, fmt.Errorf("updating chat resource: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("linked spreadsheet", "chat_id", id, "spreadsheet_id", spreadsheetID)
	}

	return s.GetChat(ctx, id)
}

// ListChats returns up to limit chats, newest first.
func (s *SQLiteStore) ListChats(ctx context.Context, limit int) ([]*Chat, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, created_at, spreadsheet_id, spreadsheet_url
		FROM chats
		ORDER BY created_at DESC, id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chats: %w", err)
	}

	return chats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*Chat, error) {
	var chat Chat
	var createdAtStr string
	var spreadsheetID, spreadsheetURL sql.NullString

	if err := row.Scan(&chat.ID, &createdAtStr, &spreadsheetID, &spreadsheetURL); err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	chat.CreatedAt = createdAt
	chat.SpreadsheetID = spreadsheetID.String
	chat.SpreadsheetURL = spreadsheetURL.String

	return &chat, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
