package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarketSync/internal/event"
	"MarketSync/internal/odds"
	"MarketSync/internal/state"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketStore owns the canonical markets table and is the only code
// allowed to move market aggregates. Every write runs against the
// caller's transaction so projection stays a single atomic unit.
type MarketStore struct{}

func NewMarketStore() *MarketStore {
	return &MarketStore{}
}

const marketColumns = `
	id, chain_market_id, question, end_date, vault_address, status, result, resolved_at,
	yes_pool_size, no_pool_size, total_pool_size, volume, probability,
	count_yes, count_no, total_yes_shares, total_no_shares, created_at, updated_at`

func scanMarket(row interface{ Scan(...interface{}) error }) (*state.Market, error) {
	var m state.Market
	var chainID sql.NullInt64
	var endDate, resolvedAt sql.NullTime
	var result sql.NullBool
	var vault sql.NullString

	err := row.Scan(
		&m.ID, &chainID, &m.Question, &endDate, &vault, &m.Status, &result, &resolvedAt,
		&m.YesPoolSize, &m.NoPoolSize, &m.TotalPoolSize, &m.Volume, &m.Probability,
		&m.CountYes, &m.CountNo, &m.TotalYesShares, &m.TotalNoShares, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if chainID.Valid {
		v := chainID.Int64
		m.ChainMarketID = &v
	}
	if endDate.Valid {
		t := endDate.Time
		m.EndDate = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	if result.Valid {
		v := result.Bool
		m.Result = &v
	}
	if vault.Valid {
		m.VaultAddress = vault.String
	}
	return &m, nil
}

// GetByChainID returns the market for a chain market id, nil if absent.
func (ms *MarketStore) GetByChainID(ctx context.Context, q DBTX, chainMarketID int64) (*state.Market, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE chain_market_id = $1`, chainMarketID)
	m, err := scanMarket(row)
	if isNoRows(err) {
		return nil, nil
	}
	return m, err
}

// LockByChainID loads the market row FOR UPDATE, pinning it for the rest
// of the projection transaction. Same-market projections serialize here
// even if worker routing ever mis-partitions.
func (ms *MarketStore) LockByChainID(ctx context.Context, tx DBTX, chainMarketID int64) (*state.Market, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE chain_market_id = $1 FOR UPDATE`, chainMarketID)
	m, err := scanMarket(row)
	if isNoRows(err) {
		return nil, nil
	}
	return m, err
}

// LockByID is LockByChainID for an engine-assigned id.
func (ms *MarketStore) LockByID(ctx context.Context, tx DBTX, id uuid.UUID) (*state.Market, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id)
	m, err := scanMarket(row)
	if isNoRows(err) {
		return nil, nil
	}
	return m, err
}

// GetByID returns the market by engine-assigned id, nil if absent.
func (ms *MarketStore) GetByID(ctx context.Context, q DBTX, id uuid.UUID) (*state.Market, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if isNoRows(err) {
		return nil, nil
	}
	return m, err
}

// UpsertFromCreation projects a MarketCreated event. First sight creates
// the row with zeroed aggregates; a duplicate or reprocessed creation
// updates only the descriptive fields (question, end date, vault) and
// never re-initializes aggregates.
func (ms *MarketStore) UpsertFromCreation(ctx context.Context, tx DBTX, evt *event.MarketCreated) (uuid.UUID, error) {
	var endDate interface{}
	if t := evt.EndDate(); !t.IsZero() {
		endDate = t
	}
	var vault interface{}
	if evt.VaultAddress != "" {
		vault = evt.VaultAddress
	}

	var id uuid.UUID
	err := tx.QueryRowContext(ctx, `
		INSERT INTO markets (
			id, chain_market_id, question, end_date, vault_address, status,
			yes_pool_size, no_pool_size, total_pool_size, volume, probability,
			count_yes, count_no, total_yes_shares, total_no_shares,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, 'active', 0, 0, 0, 0, 50, 0, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (chain_market_id) DO UPDATE SET
			question      = EXCLUDED.question,
			end_date      = COALESCE(EXCLUDED.end_date, markets.end_date),
			vault_address = COALESCE(EXCLUDED.vault_address, markets.vault_address),
			updated_at    = NOW()
		RETURNING id
	`, uuid.New(), evt.ChainMarketID, evt.Question, endDate, vault).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert market %d: %w", evt.ChainMarketID, err)
	}
	return id, nil
}

// ApplyDelta moves a market's aggregates by the given signed delta and
// re-derives total pool, volume, and probability from the updated side
// pools in the same transaction. Post-delta values are validated before
// derivation: a negative pool or count aborts the transaction with an
// InvariantViolationError, never a clamp.
func (ms *MarketStore) ApplyDelta(ctx context.Context, tx DBTX, marketID uuid.UUID, d state.Delta) error {
	if d.IsZero() {
		return nil
	}

	var yes, no decimal.Decimal
	var countYes, countNo int32
	err := tx.QueryRowContext(ctx, `
		UPDATE markets SET
			yes_pool_size    = yes_pool_size + $2,
			no_pool_size     = no_pool_size + $3,
			count_yes        = count_yes + $4,
			count_no         = count_no + $5,
			total_yes_shares = total_yes_shares + $6,
			total_no_shares  = total_no_shares + $7,
			updated_at       = NOW()
		WHERE id = $1
		RETURNING yes_pool_size, no_pool_size, count_yes, count_no
	`, marketID, d.YesPool, d.NoPool, d.CountYes, d.CountNo, d.YesShares, d.NoShares).
		Scan(&yes, &no, &countYes, &countNo)
	if err != nil {
		return fmt.Errorf("apply delta to market %s: %w", marketID, err)
	}

	if err := state.ValidateAggregates(marketID.String(), yes, no, countYes, countNo); err != nil {
		return err
	}

	return ms.deriveTotals(ctx, tx, marketID, yes, no)
}

// deriveTotals recomputes the derived aggregate fields from the side
// pools. Total pool and volume are never incremented on their own; this
// is the single place they are written outside the repair path.
func (ms *MarketStore) deriveTotals(ctx context.Context, tx DBTX, marketID uuid.UUID, yes, no decimal.Decimal) error {
	total := yes.Add(no)
	_, err := tx.ExecContext(ctx, `
		UPDATE markets SET
			total_pool_size = $2,
			volume          = $2,
			probability     = $3,
			updated_at      = NOW()
		WHERE id = $1
	`, marketID, total, odds.ImpliedProbability(yes, no))
	if err != nil {
		return fmt.Errorf("derive totals for market %s: %w", marketID, err)
	}
	return nil
}

// Resolve marks the market resolved with the given outcome. Idempotent:
// a second resolution event for the same market only refreshes the same
// values.
func (ms *MarketStore) Resolve(ctx context.Context, tx DBTX, marketID uuid.UUID, outcome bool, resolvedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE markets SET
			status      = 'resolved',
			result      = $2,
			resolved_at = COALESCE(resolved_at, $3),
			updated_at  = NOW()
		WHERE id = $1
	`, marketID, outcome, resolvedAt)
	if err != nil {
		return fmt.Errorf("resolve market %s: %w", marketID, err)
	}
	return nil
}

// RecomputeAggregates is the explicit repair path: it rebuilds every
// aggregate on one market from its bets. Normal projection never calls
// this; it exists for drift recovery after a bug, and is safe to re-run.
func (ms *MarketStore) RecomputeAggregates(ctx context.Context, tx DBTX, marketID uuid.UUID) error {
	var yes, no decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		UPDATE markets m SET
			yes_pool_size    = agg.yes_pool,
			no_pool_size     = agg.no_pool,
			count_yes        = agg.count_yes,
			count_no         = agg.count_no,
			total_yes_shares = agg.yes_shares,
			total_no_shares  = agg.no_shares,
			updated_at       = NOW()
		FROM (
			SELECT
				COALESCE(SUM(amount) FILTER (WHERE position), 0)      AS yes_pool,
				COALESCE(SUM(amount) FILTER (WHERE NOT position), 0)  AS no_pool,
				COUNT(*) FILTER (WHERE position)                      AS count_yes,
				COUNT(*) FILTER (WHERE NOT position)                  AS count_no,
				COALESCE(SUM(shares) FILTER (WHERE position), 0)      AS yes_shares,
				COALESCE(SUM(shares) FILTER (WHERE NOT position), 0)  AS no_shares
			FROM bets
			WHERE market_id = $1
		) agg
		WHERE m.id = $1
		RETURNING m.yes_pool_size, m.no_pool_size
	`, marketID).Scan(&yes, &no)
	if err != nil {
		return fmt.Errorf("recompute aggregates for market %s: %w", marketID, err)
	}

	return ms.deriveTotals(ctx, tx, marketID, yes, no)
}

// ListIDs returns every market id, oldest first. Used by repair sweeps.
func (ms *MarketStore) ListIDs(ctx context.Context, q DBTX) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Counts returns total and active market counts for platform stats.
func (ms *MarketStore) Counts(ctx context.Context, q DBTX) (total, active int64, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'active') FROM markets
	`).Scan(&total, &active)
	return total, active, err
}
