package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PlatformStats is one point-in-time capture of platform-wide totals,
// kept as history for dashboards.
type PlatformStats struct {
	ID            int64
	CapturedAt    time.Time
	TotalMarkets  int64
	ActiveMarkets int64
	TotalBets     int64
	TotalUsers    int64
	TotalVolume   decimal.Decimal
}

// StatsStore captures and reads platform stats snapshots.
type StatsStore struct {
	db *sql.DB
}

func NewStatsStore(db *sql.DB) *StatsStore {
	return &StatsStore{db: db}
}

// Capture inserts a snapshot computed from current canonical state in a
// single statement, so the totals are mutually consistent.
func (ss *StatsStore) Capture(ctx context.Context) (*PlatformStats, error) {
	var s PlatformStats
	err := ss.db.QueryRowContext(ctx, `
		INSERT INTO platform_stats
			(captured_at, total_markets, active_markets, total_bets, total_users, total_volume)
		SELECT
			NOW(),
			(SELECT COUNT(*) FROM markets),
			(SELECT COUNT(*) FROM markets WHERE status = 'active'),
			(SELECT COUNT(*) FROM bets),
			(SELECT COUNT(*) FROM users),
			(SELECT COALESCE(SUM(volume), 0) FROM markets)
		RETURNING id, captured_at, total_markets, active_markets, total_bets, total_users, total_volume
	`).Scan(&s.ID, &s.CapturedAt, &s.TotalMarkets, &s.ActiveMarkets,
		&s.TotalBets, &s.TotalUsers, &s.TotalVolume)
	if err != nil {
		return nil, fmt.Errorf("capture platform stats: %w", err)
	}
	return &s, nil
}

// Latest returns the most recent snapshot, nil when none captured yet.
func (ss *StatsStore) Latest(ctx context.Context) (*PlatformStats, error) {
	var s PlatformStats
	err := ss.db.QueryRowContext(ctx, `
		SELECT id, captured_at, total_markets, active_markets, total_bets, total_users, total_volume
		FROM platform_stats
		ORDER BY captured_at DESC
		LIMIT 1
	`).Scan(&s.ID, &s.CapturedAt, &s.TotalMarkets, &s.ActiveMarkets,
		&s.TotalBets, &s.TotalUsers, &s.TotalVolume)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
