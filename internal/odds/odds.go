// Package odds converts a precipitation projection (or its absence) and a
// candidate rain line into a win probability.
//
// With a projection, actual rainfall is modeled as roughly normal around the
// projected amount, with uncertainty that scales with the amount. Without
// one, a deterministic fallback curve keeps the payout math usable.
//
// Probabilities are shaded by a house edge so expected value favors the
// operator. The normal CDF uses the Abramowitz–Stegun rational approximation
// (error bound ~1e-7), chosen for reproducibility.
//
// Reference: Abramowitz & Stegun, "Handbook of Mathematical Functions",
// formula 26.2.17.
package odds

import (
	"math"

	"github.com/raincheck/rainline/internal/model"
)

// HouseEdge is the fraction by which displayed win probabilities are shaded
// against the bettor.
const HouseEdge = 0.18

// Uncertainty model parameters: sigma = max(SigmaFloor, mu * SigmaScale).
// The floor avoids zero-variance degeneracy for near-zero forecasts.
const (
	SigmaFloor = 0.08
	SigmaScale = 0.65
)

// Probability bounds for the two paths.
const (
	ForecastMin = 0.01
	ForecastMax = 0.99
	FallbackMin = 0.05
	FallbackMax = 0.90
)

// WinProbability returns P(rainfall ≥ line) shaded by the house edge.
// A nil projection routes to the fallback curve.
func WinProbability(line float64, proj *model.Projection) float64 {
	if proj == nil {
		return FallbackWinProbability(line)
	}

	mu := proj.ProjectedInches
	sigma := math.Max(SigmaFloor, mu*SigmaScale)

	// P(X >= line) = 1 - Φ((line - mu) / sigma)
	z := (line - mu) / sigma
	p := 1 - NormalCDF(z)

	return clamp(p*(1-HouseEdge), ForecastMin, ForecastMax)
}

// FallbackWinProbability is the no-forecast path: probability decreases
// linearly with the line, then gets the same house-edge shading.
func FallbackWinProbability(line float64) float64 {
	base := clamp(0.65-line*0.55, 0.10, 0.70)
	return clamp(base*(1-HouseEdge), FallbackMin, FallbackMax)
}

// NormalCDF computes the standard normal cumulative distribution Φ(z) using
// the Abramowitz–Stegun rational approximation 26.2.17.
func NormalCDF(z float64) float64 {
	t := 1 / (1 + 0.2316419*math.Abs(z))
	d := 0.3989423 * math.Exp(-z*z/2)
	p := d * t * (0.3193815 + t*(-0.3565638+t*(1.781478+t*(-1.821256+t*1.330274))))
	if z > 0 {
		return 1 - p
	}
	return p
}

func clamp(n, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, n))
}
