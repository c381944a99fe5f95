// Package payout converts a win probability into a payout multiplier and
// combines it with a user stake to produce the payout-if-win figure.
//
// The multiplier uses an inverse-probability base for fair-odds scaling; the
// exponent >1 makes riskier (lower-probability) lines pay superlinearly more,
// and the constant factor is the house vig. Payout is uncapped; the minimum
// stake is tied to a percentage of ticket spend.
//
// Multiplier math runs in float64 and is converted to decimal only when it
// meets money, following the same discipline as the odds model.
package payout

import (
	"math"

	"github.com/shopspring/decimal"
)

// Multiplier curve parameters.
const (
	Vig      = 0.22
	Exponent = 1.35

	// Probability clamp applied before inversion, so degenerate probabilities
	// cannot produce absurd or sub-1 multipliers.
	probFloor = 0.03
	probCeil  = 0.97

	// Display bounds for the final multiplier. Placement-time computations use
	// the clamped value so preview and stored record always agree.
	MultiplierMin = 1.05
	MultiplierMax = 25.0
)

// Minimum stake: max(AbsoluteMinStake, ticketSubtotal × MinStakeRate).
const MinStakeRate = 0.10

// AbsoluteMinStake is the floor below which a stake is never accepted.
var AbsoluteMinStake = decimal.NewFromInt(10)

// Multiplier converts a win probability into the payout multiplier:
//
//	(1 / clamp(p, 0.03, 0.97))^1.35 × (1 − vig)
//
// clamped to [MultiplierMin, MultiplierMax].
func Multiplier(p float64) float64 {
	clamped := math.Max(probFloor, math.Min(probCeil, p))
	m := math.Pow(1/clamped, Exponent) * (1 - Vig)
	return math.Max(MultiplierMin, math.Min(MultiplierMax, m))
}

// MinStake returns the minimum acceptable stake for a given ticket subtotal.
func MinStake(ticketSubtotal decimal.Decimal) decimal.Decimal {
	pct := ticketSubtotal.Mul(decimal.NewFromFloat(MinStakeRate)).Round(2)
	if pct.GreaterThan(AbsoluteMinStake) {
		return pct
	}
	return AbsoluteMinStake
}

// PayoutIfWin returns stake × multiplier rounded to cents. No ceiling.
func PayoutIfWin(stake decimal.Decimal, multiplier float64) decimal.Decimal {
	return stake.Mul(decimal.NewFromFloat(multiplier)).Round(2)
}
