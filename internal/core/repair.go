package core

import (
	"context"
	"database/sql"

	"MarketSync/internal/observability"
	"MarketSync/internal/odds"
	"MarketSync/internal/persistence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repairer holds the explicit reconciliation paths: rebuilding market
// aggregates from the bet rows and backfilling odds by replaying each
// market's bets in chain order. Normal projection never calls these.
type Repairer struct {
	db      *sql.DB
	markets *persistence.MarketStore
	bets    *persistence.BetStore
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewRepairer(db *sql.DB, markets *persistence.MarketStore, bets *persistence.BetStore, metrics *observability.Metrics) *Repairer {
	return &Repairer{
		db:      db,
		markets: markets,
		bets:    bets,
		metrics: metrics,
		log:     observability.NewLogger("repair"),
	}
}

// RebuildMarketAggregates recomputes one market's pools, counts, and
// derived fields from its linked bets, discarding the running values.
func (r *Repairer) RebuildMarketAggregates(ctx context.Context, marketID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := r.markets.LockByID(ctx, tx, marketID); err != nil {
		return err
	}
	if err := r.markets.RecomputeAggregates(ctx, tx, marketID); err != nil {
		return err
	}
	return tx.Commit()
}

// RebuildAll recomputes aggregates for every market, one transaction
// per market so a single failure does not hold up the rest.
func (r *Repairer) RebuildAll(ctx context.Context) (int, error) {
	ids, err := r.markets.ListIDs(ctx, r.db)
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if err := r.RebuildMarketAggregates(ctx, id); err != nil {
			r.log.Error().Err(err).Str("market_id", id.String()).Msg("aggregate rebuild failed")
			continue
		}
		rebuilt++
	}

	r.metrics.RepairRuns.WithLabelValues("aggregates").Inc()
	r.log.Info().Int("markets", rebuilt).Msg("rebuilt market aggregates")
	return rebuilt, nil
}

// BackfillOdds replays one market's bets in chain order, recomputing
// the odds each bet would have been assigned at insertion, and rewrites
// any that differ. This is the only path
// allowed to touch odds after assignment; it exists for rows written
// before odds were computed at insert time.
func (r *Repairer) BackfillOdds(ctx context.Context, marketID uuid.UUID) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := r.markets.LockByID(ctx, tx, marketID); err != nil {
		return 0, err
	}

	bets, err := r.bets.ListByMarketOrdered(ctx, tx, marketID)
	if err != nil {
		return 0, err
	}

	yes, no := decimal.Zero, decimal.Zero
	fixed := 0
	for _, b := range bets {
		want := odds.ForBet(b.Position, b.Amount, yes, no)
		if !b.Odds.Equal(want) {
			if err := r.bets.SetOdds(ctx, tx, b.ID, want); err != nil {
				return fixed, err
			}
			fixed++
			r.metrics.OddsBackfilled.Inc()
		}
		if b.Position {
			yes = yes.Add(b.Amount)
		} else {
			no = no.Add(b.Amount)
		}
	}

	if err := tx.Commit(); err != nil {
		return fixed, err
	}
	return fixed, nil
}

// BackfillAllOdds runs the odds backfill over every market.
func (r *Repairer) BackfillAllOdds(ctx context.Context) (int, error) {
	ids, err := r.markets.ListIDs(ctx, r.db)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		n, err := r.BackfillOdds(ctx, id)
		if err != nil {
			r.log.Error().Err(err).Str("market_id", id.String()).Msg("odds backfill failed")
			continue
		}
		fixed += n
	}

	r.metrics.RepairRuns.WithLabelValues("odds").Inc()
	if fixed > 0 {
		r.log.Info().Int("bets", fixed).Msg("backfilled bet odds")
	}
	return fixed, nil
}

// VerifyAggregates compares each market's stored pools against the sums
// of its bets and reports the ids that disagree, without fixing them.
func (r *Repairer) VerifyAggregates(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id
		FROM markets m
		LEFT JOIN (
			SELECT market_id,
			       COALESCE(SUM(amount) FILTER (WHERE position), 0)     AS yes_sum,
			       COALESCE(SUM(amount) FILTER (WHERE NOT position), 0) AS no_sum
			FROM bets
			WHERE market_id IS NOT NULL
			GROUP BY market_id
		) b ON b.market_id = m.id
		WHERE m.yes_pool_size <> COALESCE(b.yes_sum, 0)
		   OR m.no_pool_size  <> COALESCE(b.no_sum, 0)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifted []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		drifted = append(drifted, id)
	}
	return drifted, rows.Err()
}
