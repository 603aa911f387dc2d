package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"MarketSync/internal/event"

	"github.com/shopspring/decimal"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type) into a
// typed event.Event ready for durable storage and projection.
func ParseRawEvent(raw RawEvent, et event.EventType) (event.Event, error) {
	switch et {
	case event.EventTypeMarketCreated:
		return parseMarketCreated(raw.Data)
	case event.EventTypeBetPlaced:
		return parseBetPlaced(raw.Data)
	case event.EventTypeMarketResolved:
		return parseMarketResolved(raw.Data)
	case event.EventTypeWinningsClaimed:
		return parseWinningsClaimed(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", et)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match the chain indexer. Optional
// fields (shares, bet_id, vault_address) vary by contract generation;
// absence is represented by pointers and empty strings, never zero
// values that could collide with real data.

type marketCreatedJSON struct {
	EventID         string `json:"event_id"`
	MarketID        int64  `json:"market_id"`
	Question        string `json:"question"`
	EndTime         int64  `json:"end_time,omitempty"`
	BettingDeadline int64  `json:"betting_deadline,omitempty"`
	VaultAddress    string `json:"vault_address,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
	BlockNumber     int64  `json:"block_number"`
	BlockTimestamp  int64  `json:"block_timestamp"`
	TxHash          string `json:"tx_hash"`
}

func parseMarketCreated(data []byte) (*event.MarketCreated, error) {
	var j marketCreatedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketCreated: %w", err)
	}
	if j.EventID == "" {
		return nil, fmt.Errorf("parse MarketCreated: missing event_id")
	}
	if j.MarketID <= 0 {
		return nil, fmt.Errorf("parse MarketCreated: missing market_id")
	}

	return &event.MarketCreated{
		EventID:        j.EventID,
		ChainMarketID:  j.MarketID,
		Question:       j.Question,
		EndTime:        j.EndTime,
		Deadline:       j.BettingDeadline,
		VaultAddress:   j.VaultAddress,
		ContractAddr:   j.ContractAddress,
		Block:          j.BlockNumber,
		BlockTimestamp: time.Unix(j.BlockTimestamp, 0).UTC(),
		TxHash:         j.TxHash,
	}, nil
}

type betPlacedJSON struct {
	EventID         string `json:"event_id"`
	MarketID        int64  `json:"market_id"`
	User            string `json:"user"`
	Position        bool   `json:"position"`
	Amount          string `json:"amount"`
	Shares          string `json:"shares,omitempty"`
	BetID           *int64 `json:"bet_id,omitempty"`
	ContractAddress string `json:"contract_address,omitempty"`
	BlockNumber     int64  `json:"block_number"`
	BlockTimestamp  int64  `json:"block_timestamp"`
	TxHash          string `json:"tx_hash"`
}

func parseBetPlaced(data []byte) (*event.BetPlaced, error) {
	var j betPlacedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BetPlaced: %w", err)
	}
	if j.EventID == "" {
		return nil, fmt.Errorf("parse BetPlaced: missing event_id")
	}
	if j.MarketID <= 0 {
		return nil, fmt.Errorf("parse BetPlaced: missing market_id")
	}
	if j.User == "" {
		return nil, fmt.Errorf("parse BetPlaced: missing user")
	}

	amount, err := decimal.NewFromString(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse BetPlaced amount %q: %w", j.Amount, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("parse BetPlaced: negative amount %s", j.Amount)
	}

	var shares decimal.NullDecimal
	if j.Shares != "" {
		v, err := decimal.NewFromString(j.Shares)
		if err != nil {
			return nil, fmt.Errorf("parse BetPlaced shares %q: %w", j.Shares, err)
		}
		shares = decimal.NullDecimal{Decimal: v, Valid: true}
	}

	return &event.BetPlaced{
		EventID:        j.EventID,
		ChainMarketID:  j.MarketID,
		User:           j.User,
		Position:       j.Position,
		Amount:         amount,
		Shares:         shares,
		ChainBetID:     j.BetID,
		ContractAddr:   j.ContractAddress,
		Block:          j.BlockNumber,
		BlockTimestamp: time.Unix(j.BlockTimestamp, 0).UTC(),
		TxHash:         j.TxHash,
	}, nil
}

type marketResolvedJSON struct {
	EventID         string `json:"event_id"`
	MarketID        int64  `json:"market_id"`
	Outcome         bool   `json:"outcome"`
	ContractAddress string `json:"contract_address,omitempty"`
	BlockNumber     int64  `json:"block_number"`
	BlockTimestamp  int64  `json:"block_timestamp"`
	TxHash          string `json:"tx_hash"`
}

func parseMarketResolved(data []byte) (*event.MarketResolved, error) {
	var j marketResolvedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarketResolved: %w", err)
	}
	if j.EventID == "" {
		return nil, fmt.Errorf("parse MarketResolved: missing event_id")
	}
	if j.MarketID <= 0 {
		return nil, fmt.Errorf("parse MarketResolved: missing market_id")
	}

	return &event.MarketResolved{
		EventID:        j.EventID,
		ChainMarketID:  j.MarketID,
		Outcome:        j.Outcome,
		ContractAddr:   j.ContractAddress,
		Block:          j.BlockNumber,
		BlockTimestamp: time.Unix(j.BlockTimestamp, 0).UTC(),
		TxHash:         j.TxHash,
	}, nil
}

type winningsClaimedJSON struct {
	EventID         string `json:"event_id"`
	MarketID        *int64 `json:"market_id,omitempty"`
	BetID           *int64 `json:"bet_id,omitempty"`
	User            string `json:"user"`
	WinningAmount   string `json:"winning_amount"`
	ContractAddress string `json:"contract_address,omitempty"`
	BlockNumber     int64  `json:"block_number"`
	BlockTimestamp  int64  `json:"block_timestamp"`
	TxHash          string `json:"tx_hash"`
}

func parseWinningsClaimed(data []byte) (*event.WinningsClaimed, error) {
	var j winningsClaimedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WinningsClaimed: %w", err)
	}
	if j.EventID == "" {
		return nil, fmt.Errorf("parse WinningsClaimed: missing event_id")
	}
	if j.MarketID == nil && j.BetID == nil {
		return nil, fmt.Errorf("parse WinningsClaimed: neither market_id nor bet_id present")
	}

	amount, err := decimal.NewFromString(j.WinningAmount)
	if err != nil {
		return nil, fmt.Errorf("parse WinningsClaimed amount %q: %w", j.WinningAmount, err)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("parse WinningsClaimed: negative amount %s", j.WinningAmount)
	}

	return &event.WinningsClaimed{
		EventID:        j.EventID,
		ChainMarketID:  j.MarketID,
		ChainBetID:     j.BetID,
		User:           j.User,
		WinningAmount:  amount,
		ContractAddr:   j.ContractAddress,
		Block:          j.BlockNumber,
		BlockTimestamp: time.Unix(j.BlockTimestamp, 0).UTC(),
		TxHash:         j.TxHash,
	}, nil
}
