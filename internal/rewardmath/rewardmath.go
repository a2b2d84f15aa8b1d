// Package rewardmath implements the quadratic liquidity-reward scoring
// formula used to score individual quotes, aggregate a market's two-sided
// liquidity, and rank candidate markets by estimated daily USD earnings.
//
// Every function here is pure and deterministic: no I/O, no randomness, no
// clock reads. Ranking itself (fetching candidates, sorting, truncating to
// the top N) mirrors the scanner's score-then-sort-then-allocate shape; only
// the scoring formula itself changes.
package rewardmath

import (
	"math"
	"sort"

	"rewards-mm/pkg/types"
)

// TwoSidedScale is the default two-sided policy scaling constant `c`. No
// feed today carries an override, so it is a package-level default exposed
// through Config for when one shows up later.
const TwoSidedScale = 3.0

// Config carries the knobs of the reward math that could plausibly come
// from a feed override in the future, separated out so wiring one in later
// is a field addition, not a formula rewrite.
type Config struct {
	TwoSidedScale float64 // defaults to TwoSidedScale if zero
}

func (c Config) scale() float64 {
	if c.TwoSidedScale <= 0 {
		return TwoSidedScale
	}
	return c.TwoSidedScale
}

// DefaultConfig returns the zero-value Config, which resolves to the
// package default scale of 3.0.
func DefaultConfig() Config {
	return Config{TwoSidedScale: TwoSidedScale}
}

// S is the per-order scoring function. v is max_spread_cents, s is the
// order's distance from the midpoint in cents, size is the order's share
// count. Orders at or beyond the band edge, or below min_size, score zero.
func S(v, s, size, minSize float64) float64 {
	if s >= v || size < minSize {
		return 0
	}
	ratio := (v - s) / v
	return ratio * ratio * size
}

// OrderLevel is one resting order considered for scoring: its distance from
// the midpoint (already in cents) and its share size.
type OrderLevel struct {
	DistanceCents float64
	Size          float64
}

// SumScores aggregates S over a set of order levels on one side of the
// book, using only levels that pass the min-size filter (S already returns
// zero for a level that fails it, so this is a plain summation).
func SumScores(levels []OrderLevel, v, minSize float64) float64 {
	var total float64
	for _, lvl := range levels {
		total += S(v, lvl.DistanceCents, lvl.Size, minSize)
	}
	return total
}

// QMin applies the two-sided policy to a market's aggregate Q_one/Q_two,
// given its midpoint. Inside the competitive band [0.10, 0.90] the policy
// rewards genuine two-sided liquidity by taking the larger of the naive
// minimum and each side scaled down by c; outside the band the market
// cannot normally be two-sided in practice, so Q_min falls back to the
// plain minimum.
func QMin(qOne, qTwo, mp float64, cfg Config) float64 {
	if mp >= 0.10 && mp <= 0.90 {
		naive := math.Min(qOne, qTwo)
		scaled := math.Max(qOne/cfg.scale(), qTwo/cfg.scale())
		return math.Max(naive, scaled)
	}
	return math.Min(qOne, qTwo)
}

// EarningFraction is our share of the market's total scored liquidity.
// Returns 0 if both ourQ and othersQ are zero (nothing to divide).
func EarningFraction(ourQ, othersQ float64) float64 {
	denom := ourQ + othersQ
	if denom <= 0 {
		return 0
	}
	return ourQ / denom
}

// DailyEarningsUSD converts an earning fraction into a USD/day figure given
// the market's reward pool.
func DailyEarningsUSD(fraction, rewardRatePerDay float64) float64 {
	return fraction * rewardRatePerDay
}

// Estimate is the result of sizing a candidate liquidity budget against a
// market, used purely for ranking — not for actual order placement.
type Estimate struct {
	Compatible       bool
	Reason           string
	DailyEarningsUSD float64
	EaseScore        float64 // tiebreak: wider spread / smaller min size = easier
}

// EstimateEarnings sizes a candidate liquidity budget L (USD) against a
// market and produces a ranking estimate. Two-sided markets split the
// budget in half per side; single-sided markets deploy the whole budget on
// the dominant side. Either case is infeasible if the resulting share count
// falls below the market's min_order_size.
func EstimateEarnings(m types.RewardedMarket, liquidityUSD float64, cfg Config) Estimate {
	mp := m.YesPrice
	assumedSpreadCents := m.RewardsMaxSpread / 2

	twoSidedRequired := mp < 0.10 || mp > 0.90

	var qOne, qTwo float64
	if twoSidedRequired {
		half := liquidityUSD / 2
		yesShares := half / mp
		noShares := half / (1 - mp)
		if yesShares < m.RewardsMinSize || noShares < m.RewardsMinSize {
			return Estimate{Compatible: false, Reason: "two-sided liquidity below min_order_size"}
		}
		qOne = S(m.RewardsMaxSpread, assumedSpreadCents, yesShares, m.RewardsMinSize)
		qTwo = S(m.RewardsMaxSpread, assumedSpreadCents, noShares, m.RewardsMinSize)
	} else {
		shares := liquidityUSD / mp
		if shares < m.RewardsMinSize {
			return Estimate{Compatible: false, Reason: "single-sided liquidity below min_order_size"}
		}
		qOne = S(m.RewardsMaxSpread, assumedSpreadCents, shares, m.RewardsMinSize)
		qTwo = 0
	}

	ourQ := QMin(qOne, qTwo, mp, cfg)
	fraction := EarningFraction(ourQ, m.MarketCompetitiveness)
	daily := DailyEarningsUSD(fraction, m.RewardRatePerDay)

	return Estimate{
		Compatible:       true,
		DailyEarningsUSD: daily,
		EaseScore:        easeScore(m.RewardsMaxSpread, m.RewardsMinSize),
	}
}

// easeScore combines spread width and min size into a tiebreak score: a
// wider band and a smaller minimum size are both easier to qualify for.
// Each component is capped at 50 so neither dominates the other.
func easeScore(maxSpreadCents, minSize float64) float64 {
	spreadEase := math.Min(maxSpreadCents, 50)
	var sizeEase float64
	if minSize > 0 {
		sizeEase = math.Min(50/minSize, 50)
	}
	return spreadEase + sizeEase
}

// RankedMarket pairs a rewarded market with its earnings estimate for the
// purpose of sorting candidates during discovery.
type RankedMarket struct {
	Market   types.RewardedMarket
	Estimate Estimate
}

// Rank sizes every candidate against the given liquidity budget and sorts
// the compatible ones descending by estimated daily earnings, breaking ties
// by ease score. Incompatible candidates are dropped, not just sorted last.
func Rank(candidates []types.RewardedMarket, liquidityUSD float64, cfg Config) []RankedMarket {
	ranked := make([]RankedMarket, 0, len(candidates))
	for _, m := range candidates {
		est := EstimateEarnings(m, liquidityUSD, cfg)
		if !est.Compatible {
			continue
		}
		ranked = append(ranked, RankedMarket{Market: m, Estimate: est})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Estimate.DailyEarningsUSD != ranked[j].Estimate.DailyEarningsUSD {
			return ranked[i].Estimate.DailyEarningsUSD > ranked[j].Estimate.DailyEarningsUSD
		}
		return ranked[i].Estimate.EaseScore > ranked[j].Estimate.EaseScore
	})

	return ranked
}
