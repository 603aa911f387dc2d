// Package odds computes bet odds and implied probability from market
// pool state. All functions are pure.
package odds

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// Compute returns the payout multiplier at the given pool state:
// totalPool / sidePool rounded to 2 decimal places, or 1.00 when the
// chosen side has no liquidity. The pools must already include the
// bet's own stake (use ForBet when holding the pre-bet snapshot), so a
// first bet on either side pays 1.00 regardless of size. Odds are
// fixed at insertion time and never change afterwards.
func Compute(position bool, yesPool, noPool decimal.Decimal) decimal.Decimal {
	side := noPool
	if position {
		side = yesPool
	}
	if !side.IsPositive() {
		return one.Round(2)
	}
	total := yesPool.Add(noPool)
	return total.Div(side).Round(2)
}

// ForBet computes odds for a new bet of the given amount against the
// pools as they stood immediately before the bet was applied.
func ForBet(position bool, amount, yesPool, noPool decimal.Decimal) decimal.Decimal {
	if position {
		yesPool = yesPool.Add(amount)
	} else {
		noPool = noPool.Add(amount)
	}
	return Compute(position, yesPool, noPool)
}

// ImpliedProbability returns the YES probability in whole percent,
// round(yesPool*100/totalPool), or 50 for an empty market.
func ImpliedProbability(yesPool, noPool decimal.Decimal) int32 {
	total := yesPool.Add(noPool)
	if !total.IsPositive() {
		return 50
	}
	p := yesPool.Mul(decimal.NewFromInt(100)).Div(total).Round(0)
	return int32(p.IntPart())
}

// IsDefault reports whether stored odds are the 1.00 placeholder, the
// marker the backfill repair uses to find bets written before the odds
// formula existed (or while it was broken).
func IsDefault(d decimal.Decimal) bool {
	return d.Equal(one)
}
