package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// BetPlaced is emitted for every stake on a market.
//
// Two contract generations produced this event. The first carried an
// explicit per-bet identifier (ChainBetID); the vault generation dropped
// it and added Shares (the stake's share of the yield vault). Both fields
// are therefore optional and consumers must branch on presence, not on a
// contract version number.
type BetPlaced struct {
	EventID        string // Idempotency key
	ChainMarketID  int64
	User           string // Chain address of the bettor
	Position       bool   // true = YES side
	Amount         decimal.Decimal
	Shares         decimal.NullDecimal // Vault generation only
	ChainBetID     *int64              // Legacy generation only
	ContractAddr   string
	Block          int64
	BlockTimestamp time.Time
	TxHash         string
}

func (b *BetPlaced) ChainEventID() string { return b.EventID }

func (b *BetPlaced) EventType() EventType { return EventTypeBetPlaced }

func (b *BetPlaced) Partition() string { return PartitionForMarket(b.ChainMarketID) }

func (b *BetPlaced) Contract() string {
	if b.ContractAddr != "" {
		return b.ContractAddr
	}
	return ContractBetting
}

func (b *BetPlaced) BlockNumber() int64 { return b.Block }
