package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketResponse is the read-model view of one market.
type MarketResponse struct {
	ID            uuid.UUID  `json:"id"`
	ChainMarketID *int64     `json:"chain_market_id,omitempty"`
	Question      string     `json:"question"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	VaultAddress  string     `json:"vault_address,omitempty"`
	Status        string     `json:"status"`
	Result        *bool      `json:"result,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`

	// Aggregates
	YesPoolSize   decimal.Decimal `json:"yes_pool_size"`
	NoPoolSize    decimal.Decimal `json:"no_pool_size"`
	TotalPoolSize decimal.Decimal `json:"total_pool_size"`
	Volume        decimal.Decimal `json:"volume"`
	Probability   int32           `json:"probability"` // implied YES chance, percent
	CountYes      int32           `json:"count_yes"`
	CountNo       int32           `json:"count_no"`

	UpdatedAt time.Time `json:"updated_at"`
}

// BetResponse is the read-model view of one bet.
type BetResponse struct {
	ID            uuid.UUID           `json:"id"`
	UserID        uuid.UUID           `json:"user_id"`
	MarketID      *uuid.UUID          `json:"market_id,omitempty"`
	ChainMarketID int64               `json:"chain_market_id"`
	ChainBetID    *int64              `json:"chain_bet_id,omitempty"`
	Position      bool                `json:"position"`
	Amount        decimal.Decimal     `json:"amount"`
	Shares        decimal.NullDecimal `json:"shares,omitempty"`
	Odds          decimal.Decimal     `json:"odds"`
	Status        string              `json:"status"`
	Payout        decimal.NullDecimal `json:"payout,omitempty"`
	BlockNumber   int64               `json:"block_number"`
	CreatedAt     time.Time           `json:"created_at"`
}

// UserResponse is the read-model view of one user.
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// CursorStatus is one contract's sync position.
type CursorStatus struct {
	ContractAddress string    `json:"contract_address"`
	LastBlock       int64     `json:"last_block"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EventBacklog summarizes one raw fact table.
type EventBacklog struct {
	EventType   string `json:"event_type"`
	Total       int64  `json:"total"`
	Unprocessed int64  `json:"unprocessed"`
	Quarantined int64  `json:"quarantined"`
}

// SyncStatusResponse reports cursor positions and per-type backlogs,
// the operator's view of how far behind the chain the engine is.
type SyncStatusResponse struct {
	Cursors  []CursorStatus `json:"cursors"`
	Backlogs []EventBacklog `json:"backlogs"`
}

// PlatformStatsResponse is the latest platform-wide snapshot.
type PlatformStatsResponse struct {
	TotalMarkets  int64           `json:"total_markets"`
	ActiveMarkets int64           `json:"active_markets"`
	TotalBets     int64           `json:"total_bets"`
	TotalUsers    int64           `json:"total_users"`
	TotalVolume   decimal.Decimal `json:"total_volume"`
	CapturedAt    time.Time       `json:"captured_at"`
}
