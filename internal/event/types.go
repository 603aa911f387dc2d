package event

import "fmt"

// EventType discriminator for chain event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMarketCreated
	EventTypeBetPlaced
	EventTypeMarketResolved
	EventTypeWinningsClaimed
)

// Watched contract labels. Events that do not carry an explicit
// contract_address fall back to the label of the contract that emits
// their event type; the sync cursor is keyed by this value.
const (
	ContractMarket  = "market-core"
	ContractBetting = "betting-vault"
)

// Event is the interface all chain event payloads implement.
type Event interface {
	// ChainEventID returns the stable per-log dedup key.
	ChainEventID() string

	// EventType returns the discriminator.
	EventType() EventType

	// Partition returns the serialization key. Events sharing a
	// partition must never be projected concurrently.
	Partition() string

	// Contract returns the address (or fallback label) of the
	// emitting contract, for sync cursor bookkeeping.
	Contract() string

	// BlockNumber returns the chain block the log was emitted in.
	BlockNumber() int64
}

// PartitionForMarket builds the serialization key for a chain market id.
func PartitionForMarket(chainMarketID int64) string {
	return fmt.Sprintf("market:%d", chainMarketID)
}

// PartitionGlobal serializes events that cannot be attributed to a
// market at dispatch time.
const PartitionGlobal = "global"

func (et EventType) String() string {
	switch et {
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypeBetPlaced:
		return "BetPlaced"
	case EventTypeMarketResolved:
		return "MarketResolved"
	case EventTypeWinningsClaimed:
		return "WinningsClaimed"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) EventType {
	switch s {
	case "MarketCreated":
		return EventTypeMarketCreated
	case "BetPlaced":
		return EventTypeBetPlaced
	case "MarketResolved":
		return EventTypeMarketResolved
	case "WinningsClaimed":
		return EventTypeWinningsClaimed
	default:
		return EventTypeUnknown
	}
}
