package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renex-id/renex/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	handle     TEXT PRIMARY KEY,
	public_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_updated_at ON users(updated_at);
`

// RunMigrations applies the schema to the database at databaseURL.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, postgresSchema)
	return err
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// TouchUser records handle if it is not known yet.
func (s *PostgresStore) TouchUser(ctx context.Context, handle string) error {
	defer observeDB()()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (handle) VALUES ($1)
		ON CONFLICT (handle) DO NOTHING
	`, handle)
	return err
}

// SetPublicKey stores the published key for handle, creating the user if needed.
func (s *PostgresStore) SetPublicKey(ctx context.Context, handle, publicKey string) (*models.User, error) {
	defer observeDB()()
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (handle, public_key)
		VALUES ($1, $2)
		ON CONFLICT (handle) DO UPDATE
		SET public_key = EXCLUDED.public_key, updated_at = NOW()
		RETURNING handle, public_key, created_at, updated_at
	`, handle, publicKey).Scan(
		&user.Handle,
		&user.PublicKey,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser retrieves a user by handle. It returns nil when the handle is unknown.
func (s *PostgresStore) GetUser(ctx context.Context, handle string) (*models.User, error) {
	defer observeDB()()
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT handle, public_key, created_at, updated_at
		FROM users WHERE handle = $1
	`, handle).Scan(
		&user.Handle,
		&user.PublicKey,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CountUsers returns the number of known handles.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	defer observeDB()()
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
