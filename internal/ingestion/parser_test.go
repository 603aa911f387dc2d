package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"MarketSync/internal/event"
	"MarketSync/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseMarketCreated(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":         "0xaaa-3",
		"market_id":        int64(7),
		"question":         "Will it rain tomorrow?",
		"end_time":         int64(1735689600),
		"vault_address":    "0xvault",
		"contract_address": "0xmarketcore",
		"block_number":     int64(1200),
		"block_timestamp":  int64(1700000000),
		"tx_hash":          "0xaaa",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeMarketCreated)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mc, ok := evt.(*event.MarketCreated)
	if !ok {
		t.Fatalf("expected *event.MarketCreated, got %T", evt)
	}

	if mc.ChainMarketID != 7 {
		t.Errorf("market_id: got %d, want 7", mc.ChainMarketID)
	}
	if mc.Question != "Will it rain tomorrow?" {
		t.Errorf("question: got %q", mc.Question)
	}
	if got := mc.EndDate().Unix(); got != 1735689600 {
		t.Errorf("end date: got %d, want 1735689600", got)
	}
	if mc.VaultAddress != "0xvault" {
		t.Errorf("vault_address: got %q, want 0xvault", mc.VaultAddress)
	}
	if mc.EventType() != event.EventTypeMarketCreated {
		t.Errorf("event type: got %v, want MarketCreated", mc.EventType())
	}
}

func TestParseMarketCreatedDeadlineFallback(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":         "0xbbb-0",
		"market_id":        int64(8),
		"question":         "Older contract market",
		"betting_deadline": int64(1735000000),
		"block_number":     int64(900),
		"block_timestamp":  int64(1699990000),
		"tx_hash":          "0xbbb",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeMarketCreated)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mc := evt.(*event.MarketCreated)
	if got := mc.EndDate().Unix(); got != 1735000000 {
		t.Errorf("end date should fall back to betting_deadline: got %d", got)
	}
	if mc.Contract() != event.ContractMarket {
		t.Errorf("missing contract_address should fall back to %q, got %q", event.ContractMarket, mc.Contract())
	}
}

func TestParseMarketCreatedNoDeadline(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0xccc-0",
		"market_id":       int64(9),
		"question":        "No deadline market",
		"block_number":    int64(950),
		"block_timestamp": int64(1699995000),
		"tx_hash":         "0xccc",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeMarketCreated)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mc := evt.(*event.MarketCreated)
	if !mc.EndDate().IsZero() {
		t.Errorf("absent deadlines should give zero time, got %v", mc.EndDate())
	}
}

func TestParseBetPlaced(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0xddd-1",
		"market_id":       int64(7),
		"user":            "0xalice",
		"position":        true,
		"amount":          "100.5",
		"shares":          "99.25",
		"block_number":    int64(1250),
		"block_timestamp": int64(1700001000),
		"tx_hash":         "0xddd",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeBetPlaced)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	bp, ok := evt.(*event.BetPlaced)
	if !ok {
		t.Fatalf("expected *event.BetPlaced, got %T", evt)
	}

	if bp.User != "0xalice" {
		t.Errorf("user: got %q, want 0xalice", bp.User)
	}
	if !bp.Position {
		t.Error("position: got false, want true")
	}
	if got := bp.Amount.String(); got != "100.5" {
		t.Errorf("amount: got %s, want 100.5", got)
	}
	if !bp.Shares.Valid || bp.Shares.Decimal.String() != "99.25" {
		t.Errorf("shares: got %+v, want 99.25", bp.Shares)
	}
	if bp.ChainBetID != nil {
		t.Errorf("bet_id: got %v, want nil", *bp.ChainBetID)
	}
}

func TestParseBetPlacedLegacyBetID(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0xeee-0",
		"market_id":       int64(3),
		"user":            "0xbob",
		"position":        false,
		"amount":          "50",
		"bet_id":          int64(42),
		"block_number":    int64(800),
		"block_timestamp": int64(1699000000),
		"tx_hash":         "0xeee",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeBetPlaced)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	bp := evt.(*event.BetPlaced)
	if bp.ChainBetID == nil || *bp.ChainBetID != 42 {
		t.Errorf("bet_id: got %v, want 42", bp.ChainBetID)
	}
	if bp.Shares.Valid {
		t.Error("legacy bet should have no shares")
	}
}

func TestParseBetPlacedNegativeAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0xfff-0",
		"market_id":       int64(3),
		"user":            "0xbob",
		"position":        true,
		"amount":          "-10",
		"block_number":    int64(801),
		"block_timestamp": int64(1699000100),
		"tx_hash":         "0xfff",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, event.EventTypeBetPlaced); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestParseMarketResolved(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0x111-0",
		"market_id":       int64(7),
		"outcome":         true,
		"block_number":    int64(2000),
		"block_timestamp": int64(1700100000),
		"tx_hash":         "0x111",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeMarketResolved)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mr, ok := evt.(*event.MarketResolved)
	if !ok {
		t.Fatalf("expected *event.MarketResolved, got %T", evt)
	}

	if mr.ChainMarketID != 7 {
		t.Errorf("market_id: got %d, want 7", mr.ChainMarketID)
	}
	if !mr.Outcome {
		t.Error("outcome: got false, want true")
	}
}

func TestParseWinningsClaimedPositionMode(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0x222-0",
		"market_id":       int64(7),
		"user":            "0xalice",
		"winning_amount":  "140",
		"block_number":    int64(2100),
		"block_timestamp": int64(1700200000),
		"tx_hash":         "0x222",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeWinningsClaimed)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wc, ok := evt.(*event.WinningsClaimed)
	if !ok {
		t.Fatalf("expected *event.WinningsClaimed, got %T", evt)
	}

	if wc.Legacy() {
		t.Error("claim without bet_id must not be legacy")
	}
	if wc.ChainMarketID == nil || *wc.ChainMarketID != 7 {
		t.Errorf("market_id: got %v, want 7", wc.ChainMarketID)
	}
	if got := wc.WinningAmount.String(); got != "140" {
		t.Errorf("winning_amount: got %s, want 140", got)
	}
}

func TestParseWinningsClaimedLegacyMode(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0x333-0",
		"bet_id":          int64(42),
		"user":            "0xbob",
		"winning_amount":  "75.5",
		"block_number":    int64(2200),
		"block_timestamp": int64(1700300000),
		"tx_hash":         "0x333",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, event.EventTypeWinningsClaimed)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wc := evt.(*event.WinningsClaimed)
	if !wc.Legacy() {
		t.Error("claim with bet_id must be legacy")
	}
	if wc.Partition() != event.PartitionGlobal {
		t.Errorf("legacy claim partition: got %q, want global", wc.Partition())
	}
}

func TestParseWinningsClaimedNoIdentifiers_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"event_id":        "0x444-0",
		"user":            "0xbob",
		"winning_amount":  "10",
		"block_number":    int64(2300),
		"block_timestamp": int64(1700400000),
		"tx_hash":         "0x444",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, event.EventTypeWinningsClaimed); err == nil {
		t.Fatal("expected error when neither market_id nor bet_id is present")
	}
}

func TestParseMissingEventID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"market_id":       int64(7),
		"question":        "No event id",
		"block_number":    int64(1),
		"block_timestamp": int64(1700000000),
		"tx_hash":         "0x555",
	}

	raw := rawFromJSON(t, payload)
	if _, err := ingestion.ParseRawEvent(raw, event.EventTypeMarketCreated); err == nil {
		t.Fatal("expected error for missing event_id")
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawEvent(raw, event.EventTypeUnknown); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawEvent(raw, event.EventTypeBetPlaced); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
