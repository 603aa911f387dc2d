package state

import "github.com/shopspring/decimal"

// Bet lifecycle:
//
//	active -> won | lost   (market resolution, by position == outcome)
//	active -> claimed      (claim before resolution was projected)
//	won    -> claimed
//
// claimed is terminal. lost is never claimable. No transition returns a
// bet to active.

// Reclassify returns the post-resolution status for an active bet.
func Reclassify(position, outcome bool) BetStatus {
	if position == outcome {
		return BetWon
	}
	return BetLost
}

// Claimable reports whether a bet in the given status may transition to
// claimed. Already-claimed bets are skipped (idempotent redelivery) and
// lost bets reject claims outright.
func Claimable(s BetStatus) bool {
	return s == BetActive || s == BetWon
}

// Terminal reports whether the status admits no further transitions.
func Terminal(s BetStatus) bool {
	return s == BetClaimed
}

// SplitPayout distributes one claim's winning amount across the eligible
// bets in proportion to stake, assigning the rounding remainder to the
// last bet so the parts always sum to the claimed total. The chain event
// carries a single aggregate amount in position-based matching mode, so
// the per-bet payout has to be re-derived here.
func SplitPayout(total decimal.Decimal, stakes []decimal.Decimal) []decimal.Decimal {
	if len(stakes) == 0 {
		return nil
	}
	parts := make([]decimal.Decimal, len(stakes))
	if len(stakes) == 1 {
		parts[0] = total
		return parts
	}

	sum := decimal.Zero
	for _, s := range stakes {
		sum = sum.Add(s)
	}

	assigned := decimal.Zero
	for i := 0; i < len(stakes)-1; i++ {
		var part decimal.Decimal
		if sum.IsPositive() {
			part = total.Mul(stakes[i]).Div(sum).Round(6)
		} else {
			part = total.Div(decimal.NewFromInt(int64(len(stakes)))).Round(6)
		}
		parts[i] = part
		assigned = assigned.Add(part)
	}
	parts[len(stakes)-1] = total.Sub(assigned)
	return parts
}
