package event

import "time"

// MarketCreated is emitted once when a market opens on-chain.
// Idempotency key: chain event id (tx hash + log index from the producer).
//
// End-time handling: EndTime is the primary deadline field; older contract
// generations emitted BettingDeadline instead. Zero or negative values mean
// "not provided" and the projector falls back to the secondary field.
type MarketCreated struct {
	EventID        string // Idempotency key
	ChainMarketID  int64
	Question       string
	EndTime        int64 // Unix seconds, 0 = absent
	Deadline       int64 // Unix seconds, legacy fallback, 0 = absent
	VaultAddress   string // Empty for non-vault markets
	ContractAddr   string
	Block          int64
	BlockTimestamp time.Time
	TxHash         string
}

func (m *MarketCreated) ChainEventID() string { return m.EventID }

func (m *MarketCreated) EventType() EventType { return EventTypeMarketCreated }

func (m *MarketCreated) Partition() string { return PartitionForMarket(m.ChainMarketID) }

func (m *MarketCreated) Contract() string {
	if m.ContractAddr != "" {
		return m.ContractAddr
	}
	return ContractMarket
}

func (m *MarketCreated) BlockNumber() int64 { return m.Block }

// EndDate resolves the effective market deadline, preferring EndTime and
// falling back to the legacy Deadline field. Returns the zero time when
// neither generation supplied a usable value.
func (m *MarketCreated) EndDate() time.Time {
	if m.EndTime > 0 {
		return time.Unix(m.EndTime, 0).UTC()
	}
	if m.Deadline > 0 {
		return time.Unix(m.Deadline, 0).UTC()
	}
	return time.Time{}
}

// MarketResolved is emitted when the oracle settles a market.
type MarketResolved struct {
	EventID        string
	ChainMarketID  int64
	Outcome        bool
	ContractAddr   string
	Block          int64
	BlockTimestamp time.Time
	TxHash         string
}

func (m *MarketResolved) ChainEventID() string { return m.EventID }

func (m *MarketResolved) EventType() EventType { return EventTypeMarketResolved }

func (m *MarketResolved) Partition() string { return PartitionForMarket(m.ChainMarketID) }

func (m *MarketResolved) Contract() string {
	if m.ContractAddr != "" {
		return m.ContractAddr
	}
	return ContractMarket
}

func (m *MarketResolved) BlockNumber() int64 { return m.Block }
