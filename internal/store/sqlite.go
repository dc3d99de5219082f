package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/renex-id/renex/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/renex.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/renex.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		handle TEXT PRIMARY KEY,
		public_key TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_updated_at ON users(updated_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TouchUser records handle if it is not known yet.
func (s *SQLiteStore) TouchUser(ctx context.Context, handle string) error {
	defer observeDB()()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (handle, created_at, updated_at)
		VALUES (?, ?, ?)
	`, handle, now, now)
	return err
}

// SetPublicKey stores the published key for handle, creating the user if needed.
func (s *SQLiteStore) SetPublicKey(ctx context.Context, handle, publicKey string) (*models.User, error) {
	defer observeDB()()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (handle, public_key, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET public_key = excluded.public_key, updated_at = excluded.updated_at
	`, handle, publicKey, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetUser(ctx, handle)
}

// GetUser retrieves a user by handle. It returns nil when the handle is unknown.
func (s *SQLiteStore) GetUser(ctx context.Context, handle string) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT handle, public_key, created_at, updated_at
		FROM users WHERE handle = ?
	`, handle).Scan(
		&user.Handle,
		&user.PublicKey,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CountUsers returns the number of known handles.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
