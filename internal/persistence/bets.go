package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"MarketSync/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BetStore owns the canonical bets table.
type BetStore struct{}

func NewBetStore() *BetStore {
	return &BetStore{}
}

const betColumns = `
	id, user_id, market_id, chain_market_id, chain_bet_id, chain_event_id,
	position, amount, shares, odds, status, payout, block_number, created_at, updated_at`

func scanBet(row interface{ Scan(...interface{}) error }) (*state.Bet, error) {
	var b state.Bet
	var marketID uuid.NullUUID
	var chainBetID sql.NullInt64

	err := row.Scan(
		&b.ID, &b.UserID, &marketID, &b.ChainMarketID, &chainBetID, &b.ChainEventID,
		&b.Position, &b.Amount, &b.Shares, &b.Odds, &b.Status, &b.Payout,
		&b.Block, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if marketID.Valid {
		id := marketID.UUID
		b.MarketID = &id
	}
	if chainBetID.Valid {
		v := chainBetID.Int64
		b.ChainBetID = &v
	}
	return &b, nil
}

// Insert writes a new bet row. The chain_event_id unique constraint is
// the last-resort guard against double projection of one BetPlaced log.
func (bs *BetStore) Insert(ctx context.Context, tx DBTX, b *state.Bet) error {
	var marketID interface{}
	if b.MarketID != nil {
		marketID = *b.MarketID
	}
	var chainBetID interface{}
	if b.ChainBetID != nil {
		chainBetID = *b.ChainBetID
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO bets (
			id, user_id, market_id, chain_market_id, chain_bet_id, chain_event_id,
			position, amount, shares, odds, status, payout, block_number,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, NOW(), NOW())
	`, b.ID, b.UserID, marketID, b.ChainMarketID, chainBetID, b.ChainEventID,
		b.Position, b.Amount, b.Shares, b.Odds, b.Status, b.Block)
	if err != nil {
		return fmt.Errorf("insert bet %s: %w", b.ChainEventID, err)
	}
	return nil
}

// GetByChainEventID returns the bet projected from a chain log, nil if
// the log has not been projected.
func (bs *BetStore) GetByChainEventID(ctx context.Context, q DBTX, chainEventID string) (*state.Bet, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+betColumns+` FROM bets WHERE chain_event_id = $1`, chainEventID)
	b, err := scanBet(row)
	if isNoRows(err) {
		return nil, nil
	}
	return b, err
}

// LockByChainBetID loads a bet FOR UPDATE by its legacy chain bet id.
func (bs *BetStore) LockByChainBetID(ctx context.Context, tx DBTX, chainBetID int64) (*state.Bet, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+betColumns+` FROM bets WHERE chain_bet_id = $1 FOR UPDATE`, chainBetID)
	b, err := scanBet(row)
	if isNoRows(err) {
		return nil, nil
	}
	return b, err
}

// ChainMarketIDForBet resolves the market a legacy claim belongs to, for
// dispatcher routing. Returns false when the bet is not yet projected.
func (bs *BetStore) ChainMarketIDForBet(ctx context.Context, q DBTX, chainBetID int64) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT chain_market_id FROM bets WHERE chain_bet_id = $1`, chainBetID).Scan(&id)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// LockClaimable loads a user's active/won bets on one market FOR UPDATE,
// oldest first. These are the settlement candidates for position-based
// claim matching; claimed and lost bets never appear.
func (bs *BetStore) LockClaimable(ctx context.Context, tx DBTX, marketID, userID uuid.UUID) ([]*state.Bet, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE market_id = $1 AND user_id = $2 AND status IN ('active', 'won')
		ORDER BY block_number, created_at
		FOR UPDATE
	`, marketID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []*state.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// ReclassifyForResolution moves every still-active bet on the market to
// won or lost in one statement, keyed by position == outcome. Bets that
// already reached claimed (claim raced ahead of resolution) are left
// untouched. Returns the number of bets transitioned.
func (bs *BetStore) ReclassifyForResolution(ctx context.Context, tx DBTX, marketID uuid.UUID, outcome bool) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE bets SET
			status     = CASE WHEN position = $2 THEN 'won' ELSE 'lost' END,
			updated_at = NOW()
		WHERE market_id = $1 AND status = 'active'
	`, marketID, outcome)
	if err != nil {
		return 0, fmt.Errorf("reclassify bets for market %s: %w", marketID, err)
	}
	return res.RowsAffected()
}

// MarkClaimed settles one bet with its payout. The status guard makes
// redelivered claim events no-ops: a bet leaves active/won exactly once.
func (bs *BetStore) MarkClaimed(ctx context.Context, tx DBTX, betID uuid.UUID, payout decimal.Decimal) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE bets SET
			status     = 'claimed',
			payout     = $2,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('active', 'won')
	`, betID, payout)
	if err != nil {
		return false, fmt.Errorf("mark bet %s claimed: %w", betID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetOdds rewrites a bet's odds. Only the backfill repair may call this;
// odds are immutable on every normal path.
func (bs *BetStore) SetOdds(ctx context.Context, tx DBTX, betID uuid.UUID, odds decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bets SET odds = $2, updated_at = NOW() WHERE id = $1
	`, betID, odds)
	return err
}

// ListByMarketOrdered returns every bet on a market in chain order, the
// replay order for the odds backfill.
func (bs *BetStore) ListByMarketOrdered(ctx context.Context, q DBTX, marketID uuid.UUID) ([]*state.Bet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE market_id = $1
		ORDER BY block_number, created_at
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []*state.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// ListOrphans returns bets whose market had not been projected when the
// bet arrived, oldest first. The correlation sweep re-links them.
func (bs *BetStore) ListOrphans(ctx context.Context, q DBTX, limit int) ([]*state.Bet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE market_id IS NULL
		ORDER BY block_number, created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []*state.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// LockOrphansByChainMarket loads the unlinked bets waiting on one
// market FOR UPDATE, in chain order. Used inside the market-creation
// transaction so the bets link atomically with the market row.
func (bs *BetStore) LockOrphansByChainMarket(ctx context.Context, tx DBTX, chainMarketID int64) ([]*state.Bet, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE market_id IS NULL AND chain_market_id = $1
		ORDER BY block_number, created_at
		FOR UPDATE
	`, chainMarketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []*state.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// LinkToMarket attaches an orphan bet to its market and fixes its odds.
// Guarded on market_id IS NULL so a concurrent sweep cannot double-link.
func (bs *BetStore) LinkToMarket(ctx context.Context, tx DBTX, betID, marketID uuid.UUID, odds decimal.Decimal) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE bets SET
			market_id  = $2,
			odds       = $3,
			updated_at = NOW()
		WHERE id = $1 AND market_id IS NULL
	`, betID, marketID, odds)
	if err != nil {
		return false, fmt.Errorf("link bet %s to market %s: %w", betID, marketID, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Count returns the total number of bets, for platform stats.
func (bs *BetStore) Count(ctx context.Context, q DBTX) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bets`).Scan(&n)
	return n, err
}

// ListByUser returns a user's bets, newest block first.
func (bs *BetStore) ListByUser(ctx context.Context, q DBTX, userID uuid.UUID, limit int) ([]*state.Bet, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+betColumns+` FROM bets
		WHERE user_id = $1
		ORDER BY block_number DESC, created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []*state.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}
