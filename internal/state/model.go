// Package state holds the canonical derived entities and the pure rules
// that mutate them: aggregate deltas, settlement transitions, payout
// splitting. Nothing in this package touches the database.
package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketStatus is the market lifecycle state.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketResolved MarketStatus = "resolved"
)

// BetStatus is the bet lifecycle state.
type BetStatus string

const (
	BetActive  BetStatus = "active"
	BetWon     BetStatus = "won"
	BetLost    BetStatus = "lost"
	BetClaimed BetStatus = "claimed"
)

// User is a chain address seen by any event. Created lazily on first
// reference, never deleted.
type User struct {
	ID        uuid.UUID
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Market is the canonical market record plus its owned aggregates.
//
// TotalPoolSize and Volume are derived: always recomputed as
// yes + no inside the same statement that moves a side pool, never
// incremented independently.
type Market struct {
	ID            uuid.UUID
	ChainMarketID *int64 // nil until the creation event is projected
	Question      string
	EndDate       *time.Time
	VaultAddress  string
	Status        MarketStatus
	Result        *bool
	ResolvedAt    *time.Time

	YesPoolSize    decimal.Decimal
	NoPoolSize     decimal.Decimal
	TotalPoolSize  decimal.Decimal
	Volume         decimal.Decimal
	Probability    int32
	CountYes       int32
	CountNo        int32
	TotalYesShares decimal.Decimal
	TotalNoShares  decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Bet is one stake on one market side. ChainMarketID is kept alongside
// the resolved MarketID so orphan bets (projected before their market)
// can be correlated once the market exists.
type Bet struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	MarketID      *uuid.UUID // nil while the market is unresolved (bet-before-market race)
	ChainMarketID int64
	ChainBetID    *int64
	ChainEventID  string
	Position      bool
	Amount        decimal.Decimal
	Shares        decimal.NullDecimal
	Odds          decimal.Decimal
	Status        BetStatus
	Payout        decimal.NullDecimal
	Block         int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncCursor records the last processed block per watched contract.
type SyncCursor struct {
	ContractAddress string
	LastBlock       int64
	UpdatedAt       time.Time
}
