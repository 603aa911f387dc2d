package persistence

import (
	"context"
	"fmt"

	"MarketSync/internal/state"

	"github.com/google/uuid"
)

// UserStore owns the canonical users table.
type UserStore struct{}

func NewUserStore() *UserStore {
	return &UserStore{}
}

// InsertOrFetch returns the user id for a chain address, creating the
// row on first sight. Concurrent first-sight of the same address is
// resolved by the unique constraint: the insert is attempted first with
// ON CONFLICT DO NOTHING, then the id is read back, so exactly one row
// ever exists per address regardless of interleaving.
func (us *UserStore) InsertOrFetch(ctx context.Context, q DBTX, address string) (uuid.UUID, error) {
	newID := uuid.New()
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (id, address, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (address) DO NOTHING
	`, newID, address)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert user %s: %w", address, err)
	}

	var id uuid.UUID
	err = q.QueryRowContext(ctx, `SELECT id FROM users WHERE address = $1`, address).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fetch user %s: %w", address, err)
	}
	return id, nil
}

// GetByAddress returns the user for a chain address, or nil when unseen.
func (us *UserStore) GetByAddress(ctx context.Context, q DBTX, address string) (*state.User, error) {
	var u state.User
	err := q.QueryRowContext(ctx, `
		SELECT id, address, created_at, updated_at FROM users WHERE address = $1
	`, address).Scan(&u.ID, &u.Address, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// Count returns the total number of users, for platform stats.
func (us *UserStore) Count(ctx context.Context, q DBTX) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
