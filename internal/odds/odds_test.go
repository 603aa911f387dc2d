package odds_test

import (
	"testing"

	"MarketSync/internal/odds"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

// ============================================================================
// Test: odds on an empty side pay 1.00
// ============================================================================

func TestComputeEmptySide(t *testing.T) {
	got := odds.Compute(true, dec(t, "0"), dec(t, "0"))
	if got.String() != "1" {
		t.Errorf("empty market YES odds: got %s, want 1", got)
	}

	// Liquidity on the opposite side only still pays 1.00: the chosen
	// side has no pool to divide by.
	got = odds.Compute(true, dec(t, "0"), dec(t, "500"))
	if got.String() != "1" {
		t.Errorf("YES odds with only NO liquidity: got %s, want 1", got)
	}
}

// ============================================================================
// Test: first-bets scenario (100 YES then 50 NO)
// ============================================================================

func TestComputeFirstBets(t *testing.T) {
	// Bet A: YES 100 on an empty market. Pool with A applied is 100/0,
	// so A backs the whole YES side and pays even.
	oddsA := odds.ForBet(true, dec(t, "100"), dec(t, "0"), dec(t, "0"))
	if !oddsA.Equal(dec(t, "1")) {
		t.Errorf("bet A odds: got %s, want 1.00", oddsA)
	}

	// Bet B: NO 50 against the 100/0 pool left by A. 150/50 = 3.00.
	oddsB := odds.ForBet(false, dec(t, "50"), dec(t, "100"), dec(t, "0"))
	if !oddsB.Equal(dec(t, "3")) {
		t.Errorf("bet B odds: got %s, want 3.00", oddsB)
	}
}

// ============================================================================
// Test: rounding to 2 decimal places
// ============================================================================

func TestComputeRounding(t *testing.T) {
	// total=1000, yes=300 -> 3.3333... -> 3.33
	got := odds.Compute(true, dec(t, "300"), dec(t, "700"))
	if !got.Equal(dec(t, "3.33")) {
		t.Errorf("got %s, want 3.33", got)
	}

	// total=200, no=3 -> 66.666... -> 66.67 (round half up at the cut)
	got = odds.Compute(false, dec(t, "197"), dec(t, "3"))
	if !got.Equal(dec(t, "66.67")) {
		t.Errorf("got %s, want 66.67", got)
	}
}

// ============================================================================
// Test: implied probability
// ============================================================================

func TestImpliedProbability(t *testing.T) {
	if got := odds.ImpliedProbability(dec(t, "0"), dec(t, "0")); got != 50 {
		t.Errorf("empty market probability: got %d, want 50", got)
	}
	if got := odds.ImpliedProbability(dec(t, "100"), dec(t, "50")); got != 67 {
		t.Errorf("100/50 probability: got %d, want 67", got)
	}
	if got := odds.ImpliedProbability(dec(t, "0"), dec(t, "80")); got != 0 {
		t.Errorf("all-NO probability: got %d, want 0", got)
	}
}

// ============================================================================
// Test: placeholder detection for the backfill repair
// ============================================================================

func TestIsDefault(t *testing.T) {
	if !odds.IsDefault(dec(t, "1.00")) {
		t.Error("1.00 should be the placeholder")
	}
	if !odds.IsDefault(dec(t, "1.0")) {
		t.Error("1.0 should be the placeholder")
	}
	if odds.IsDefault(dec(t, "1.01")) {
		t.Error("1.01 is real odds, not the placeholder")
	}
}
