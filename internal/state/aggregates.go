package state

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Delta is a signed adjustment to one market's owned aggregates.
// Only the side pools, counts and share totals are carried; total pool,
// volume and probability are derived after application.
type Delta struct {
	YesPool   decimal.Decimal
	NoPool    decimal.Decimal
	CountYes  int32
	CountNo   int32
	YesShares decimal.Decimal
	NoShares  decimal.Decimal
}

// CreationDelta is the one authoritative "add on bet creation" delta.
// Exactly one call site (the bet-placed projection, plus orphan-bet
// linking which is the same insertion deferred) may apply it; every
// other mutation path goes through RemovalDelta or MutationDelta so the
// same stake can never be counted twice.
func CreationDelta(position bool, amount decimal.Decimal, shares decimal.NullDecimal) Delta {
	var d Delta
	if position {
		d.YesPool = amount
		d.CountYes = 1
		if shares.Valid {
			d.YesShares = shares.Decimal
		}
	} else {
		d.NoPool = amount
		d.CountNo = 1
		if shares.Valid {
			d.NoShares = shares.Decimal
		}
	}
	return d
}

// RemovalDelta is the inverse of the creation delta for an existing bet.
func RemovalDelta(b *Bet) Delta {
	return CreationDelta(b.Position, b.Amount, b.Shares).Neg()
}

// MutationDelta compensates a bet whose amount, shares or position
// changed: inverse of the old values plus forward of the new ones.
func MutationDelta(old, updated *Bet) Delta {
	return RemovalDelta(old).Add(CreationDelta(updated.Position, updated.Amount, updated.Shares))
}

// Neg returns the sign-flipped delta.
func (d Delta) Neg() Delta {
	return Delta{
		YesPool:   d.YesPool.Neg(),
		NoPool:    d.NoPool.Neg(),
		CountYes:  -d.CountYes,
		CountNo:   -d.CountNo,
		YesShares: d.YesShares.Neg(),
		NoShares:  d.NoShares.Neg(),
	}
}

// Add combines two deltas.
func (d Delta) Add(o Delta) Delta {
	return Delta{
		YesPool:   d.YesPool.Add(o.YesPool),
		NoPool:    d.NoPool.Add(o.NoPool),
		CountYes:  d.CountYes + o.CountYes,
		CountNo:   d.CountNo + o.CountNo,
		YesShares: d.YesShares.Add(o.YesShares),
		NoShares:  d.NoShares.Add(o.NoShares),
	}
}

// IsZero reports whether applying the delta would be a no-op.
func (d Delta) IsZero() bool {
	return d.YesPool.IsZero() && d.NoPool.IsZero() &&
		d.CountYes == 0 && d.CountNo == 0 &&
		d.YesShares.IsZero() && d.NoShares.IsZero()
}

// InvariantViolationError reports an aggregate update that would leave a
// market in an impossible state (negative pool, negative count). Fatal
// for the offending event; never clamped.
type InvariantViolationError struct {
	MarketID string
	Field    string
	Value    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("aggregate invariant violated: market=%s %s=%s", e.MarketID, e.Field, e.Value)
}

// ValidateAggregates checks post-delta values before they are committed.
func ValidateAggregates(marketID string, yesPool, noPool decimal.Decimal, countYes, countNo int32) error {
	if yesPool.IsNegative() {
		return &InvariantViolationError{MarketID: marketID, Field: "yes_pool_size", Value: yesPool.String()}
	}
	if noPool.IsNegative() {
		return &InvariantViolationError{MarketID: marketID, Field: "no_pool_size", Value: noPool.String()}
	}
	if countYes < 0 {
		return &InvariantViolationError{MarketID: marketID, Field: "count_yes", Value: fmt.Sprintf("%d", countYes)}
	}
	if countNo < 0 {
		return &InvariantViolationError{MarketID: marketID, Field: "count_no", Value: fmt.Sprintf("%d", countNo)}
	}
	return nil
}
