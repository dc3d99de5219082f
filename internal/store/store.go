package store

import (
	"context"

	"github.com/renex-id/renex/internal/models"
)

// DataStore defines the interface for persistent storage of users and their
// published keys. Both PostgresStore and SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	TouchUser(ctx context.Context, handle string) error
	SetPublicKey(ctx context.Context, handle, publicKey string) (*models.User, error)
	GetUser(ctx context.Context, handle string) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)
}
