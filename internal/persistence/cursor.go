package persistence

import (
	"context"
	"fmt"

	"MarketSync/internal/state"
)

// CursorStore tracks the last processed block per watched contract so
// the chain-watching producer knows where to resume. Advancement is
// monotonic: attempts to move a cursor backward are ignored.
type CursorStore struct{}

func NewCursorStore() *CursorStore {
	return &CursorStore{}
}

// Advance raises the cursor to blockNumber if it is ahead of the stored
// value. GREATEST keeps the write idempotent and order-insensitive, so
// replayed or out-of-order events can never rewind the producer.
func (cs *CursorStore) Advance(ctx context.Context, q DBTX, contractAddress string, blockNumber int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_cursors (contract_address, last_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (contract_address) DO UPDATE SET
			last_block = GREATEST(sync_cursors.last_block, EXCLUDED.last_block),
			updated_at = NOW()
	`, contractAddress, blockNumber)
	if err != nil {
		return fmt.Errorf("advance cursor %s to %d: %w", contractAddress, blockNumber, err)
	}
	return nil
}

// Get returns the cursor for one contract; 0 when never advanced.
func (cs *CursorStore) Get(ctx context.Context, q DBTX, contractAddress string) (int64, error) {
	var block int64
	err := q.QueryRowContext(ctx,
		`SELECT last_block FROM sync_cursors WHERE contract_address = $1`, contractAddress).Scan(&block)
	if isNoRows(err) {
		return 0, nil
	}
	return block, err
}

// All returns every cursor, for the sync status view.
func (cs *CursorStore) All(ctx context.Context, q DBTX) ([]state.SyncCursor, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT contract_address, last_block, updated_at FROM sync_cursors ORDER BY contract_address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []state.SyncCursor
	for rows.Next() {
		var c state.SyncCursor
		if err := rows.Scan(&c.ContractAddress, &c.LastBlock, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return cursors, rows.Err()
}
