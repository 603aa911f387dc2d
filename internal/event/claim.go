package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// WinningsClaimed is emitted when a user withdraws a winning position.
//
// Matching mode depends on which identifier the contract generation
// emitted: legacy events carry ChainBetID and settle exactly one bet;
// vault-generation events carry only ChainMarketID and settle every
// eligible bet the user holds on that market.
type WinningsClaimed struct {
	EventID        string // Idempotency key
	ChainMarketID  *int64
	ChainBetID     *int64
	User           string
	WinningAmount  decimal.Decimal
	ContractAddr   string
	Block          int64
	BlockTimestamp time.Time
	TxHash         string
}

func (c *WinningsClaimed) ChainEventID() string { return c.EventID }

func (c *WinningsClaimed) EventType() EventType { return EventTypeWinningsClaimed }

// Partition returns the market partition when the event names its market.
// Legacy claims identify only the bet; the dispatcher resolves the owning
// market before routing, and falls back to the global partition when the
// bet is not yet known.
func (c *WinningsClaimed) Partition() string {
	if c.ChainMarketID != nil {
		return PartitionForMarket(*c.ChainMarketID)
	}
	return PartitionGlobal
}

func (c *WinningsClaimed) Contract() string {
	if c.ContractAddr != "" {
		return c.ContractAddr
	}
	return ContractBetting
}

func (c *WinningsClaimed) BlockNumber() int64 { return c.Block }

// Legacy reports whether the event uses explicit bet-id matching.
func (c *WinningsClaimed) Legacy() bool { return c.ChainBetID != nil }
