package core_test

import (
	"fmt"
	"testing"

	"MarketSync/internal/core"
	"MarketSync/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetricsWithRegistry(prometheus.NewRegistry())
}

type fakeDBChecker struct {
	processed map[string]bool
	calls     int
}

func (f *fakeDBChecker) IsProcessed(eventType, chainEventID string) (bool, error) {
	f.calls++
	return f.processed[eventType+":"+chainEventID], nil
}

// ============================================================
// Test: two-tier duplicate detection
// ============================================================

func TestIsDuplicateFreshKey(t *testing.T) {
	ic := core.NewIdempotencyChecker(16, &fakeDBChecker{}, testMetrics())

	if ic.IsDuplicate("BetPlaced", "0xabc-0") {
		t.Error("unseen key reported as duplicate")
	}
}

func TestIsDuplicateAfterMark(t *testing.T) {
	db := &fakeDBChecker{}
	ic := core.NewIdempotencyChecker(16, db, testMetrics())

	ic.MarkProcessed("BetPlaced", "0xabc-0")
	db.calls = 0

	if !ic.IsDuplicate("BetPlaced", "0xabc-0") {
		t.Error("marked key not reported as duplicate")
	}
	if db.calls != 0 {
		t.Errorf("LRU hit should not reach the database, got %d calls", db.calls)
	}
}

func TestIsDuplicateFallsBackToDB(t *testing.T) {
	db := &fakeDBChecker{processed: map[string]bool{"MarketCreated:0xdef-1": true}}
	ic := core.NewIdempotencyChecker(16, db, testMetrics())

	if !ic.IsDuplicate("MarketCreated", "0xdef-1") {
		t.Error("DB-known key not reported as duplicate")
	}

	// The hit is promoted to the hot tier.
	db.calls = 0
	if !ic.IsDuplicate("MarketCreated", "0xdef-1") {
		t.Error("promoted key not reported as duplicate")
	}
	if db.calls != 0 {
		t.Errorf("promoted key should not reach the database, got %d calls", db.calls)
	}
}

func TestKeysScopedByEventType(t *testing.T) {
	ic := core.NewIdempotencyChecker(16, &fakeDBChecker{}, testMetrics())

	ic.MarkProcessed("BetPlaced", "0xabc-0")
	if ic.IsDuplicate("WinningsClaimed", "0xabc-0") {
		t.Error("same chain event id under another type must not collide")
	}
}

func TestLRUEviction(t *testing.T) {
	ic := core.NewIdempotencyChecker(4, nil, testMetrics())

	for i := 0; i < 8; i++ {
		ic.MarkProcessed("BetPlaced", fmt.Sprintf("0x%d", i))
	}

	if got := ic.Size(); got != 4 {
		t.Errorf("size = %d, want capacity 4", got)
	}
	if ic.IsDuplicate("BetPlaced", "0x0") {
		t.Error("evicted key still reported as duplicate with no DB tier")
	}
	if !ic.IsDuplicate("BetPlaced", "0x7") {
		t.Error("recent key lost from LRU")
	}
}

func TestWarmFromKeys(t *testing.T) {
	ic := core.NewIdempotencyChecker(16, nil, testMetrics())

	ic.WarmFromKeys([]string{"BetPlaced:0x1", "MarketResolved:0x2"})

	if !ic.IsDuplicate("BetPlaced", "0x1") {
		t.Error("warmed key not recognized")
	}
	if !ic.IsDuplicate("MarketResolved", "0x2") {
		t.Error("warmed key not recognized")
	}
}
