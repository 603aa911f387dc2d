package state_test

import (
	"testing"

	"MarketSync/internal/state"

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

func nullDec(t *testing.T, s string) decimal.NullDecimal {
	t.Helper()
	return decimal.NullDecimal{Decimal: dec(t, s), Valid: true}
}

// ============================================================================
// Test: creation delta touches exactly one side
// ============================================================================

func TestCreationDelta(t *testing.T) {
	d := state.CreationDelta(true, dec(t, "100"), decimal.NullDecimal{})
	if !d.YesPool.Equal(dec(t, "100")) || d.CountYes != 1 {
		t.Errorf("YES delta: got pool=%s count=%d", d.YesPool, d.CountYes)
	}
	if !d.NoPool.IsZero() || d.CountNo != 0 || !d.YesShares.IsZero() {
		t.Errorf("YES delta leaked into other fields: %+v", d)
	}

	d = state.CreationDelta(false, dec(t, "50"), nullDec(t, "48.5"))
	if !d.NoPool.Equal(dec(t, "50")) || d.CountNo != 1 {
		t.Errorf("NO delta: got pool=%s count=%d", d.NoPool, d.CountNo)
	}
	if !d.NoShares.Equal(dec(t, "48.5")) {
		t.Errorf("NO shares: got %s, want 48.5", d.NoShares)
	}
}

// ============================================================================
// Test: removal is the exact inverse of creation
// ============================================================================

func TestRemovalDeltaInverts(t *testing.T) {
	bet := &state.Bet{
		Position: true,
		Amount:   dec(t, "75"),
		Shares:   nullDec(t, "74.1"),
	}

	sum := state.CreationDelta(bet.Position, bet.Amount, bet.Shares).Add(state.RemovalDelta(bet))
	if !sum.IsZero() {
		t.Errorf("creation+removal should cancel, got %+v", sum)
	}
}

// ============================================================================
// Test: mutation delta moves a stake between sides
// ============================================================================

func TestMutationDelta(t *testing.T) {
	old := &state.Bet{Position: true, Amount: dec(t, "100")}
	updated := &state.Bet{Position: false, Amount: dec(t, "40")}

	d := state.MutationDelta(old, updated)
	if !d.YesPool.Equal(dec(t, "-100")) || d.CountYes != -1 {
		t.Errorf("old side not compensated: %+v", d)
	}
	if !d.NoPool.Equal(dec(t, "40")) || d.CountNo != 1 {
		t.Errorf("new side not applied: %+v", d)
	}
}

// ============================================================================
// Test: negative aggregates are rejected, never clamped
// ============================================================================

func TestValidateAggregates(t *testing.T) {
	if err := state.ValidateAggregates("m1", dec(t, "0"), dec(t, "10"), 0, 1); err != nil {
		t.Errorf("valid aggregates rejected: %v", err)
	}

	err := state.ValidateAggregates("m1", dec(t, "-1"), dec(t, "10"), 0, 1)
	if err == nil {
		t.Fatal("negative yes pool accepted")
	}
	var inv *state.InvariantViolationError
	if !errorsAs(err, &inv) || inv.Field != "yes_pool_size" {
		t.Errorf("got %v, want yes_pool_size violation", err)
	}

	if err := state.ValidateAggregates("m1", dec(t, "5"), dec(t, "5"), 1, -1); err == nil {
		t.Error("negative count accepted")
	}
}

func errorsAs(err error, target **state.InvariantViolationError) bool {
	v, ok := err.(*state.InvariantViolationError)
	if ok {
		*target = v
	}
	return ok
}
