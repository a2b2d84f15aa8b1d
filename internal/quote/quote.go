// Package quote generates the two buy-only quotes a market maker wants live
// for a market, and decides when they need refreshing.
//
// This trades an Avellaneda-Stoikov reservation-price model for a
// reward-band offset rule, while keeping the same tick-rounding/clamping
// helper shape (clamp, roundDownToTick, roundUpToTick).
package quote

import (
	"math"

	"rewards-mm/internal/tracker"
	"rewards-mm/pkg/types"
)

// Params are the inputs to a single quote-generation call.
type Params struct {
	Market         types.Market
	Mid            float64
	SpreadFraction float64 // (0, 1]
	OrderSize      float64
}

// Pair is the result of one quote-generation call: either side may be nil
// if the tracker's exposure gating forbids buying it.
type Pair struct {
	Yes *types.Quote
	No  *types.Quote
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundDownToTick(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Floor(v*pow) / pow
}

func roundUpToTick(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Ceil(v*pow) / pow
}

// Generate produces the buy-YES and buy-NO quotes for a market, emitting
// only the sides the tracker's exposure gating currently allows. A quote is
// always a buy on one of the two mirrored tokens — the maker never sells
// during market making.
func Generate(p Params, t *tracker.Tracker) Pair {
	tick := math.Pow(10, -float64(p.Market.TickSize.Decimals()))
	// max_spread_cents is the full bid-to-ask band width; the per-side
	// offset from the midpoint is half of it, scaled by spread_fraction.
	// This matches the reward-math estimator's own assumedSpreadCents
	// (rewardmath.EstimateEarnings uses RewardsMaxSpread/2) and reproduces
	// the worked example of mp=0.50, max_spread=4¢, spread_fraction=0.5
	// yielding a 0.49/0.49 quote pair, not 0.48/0.48.
	offset := (p.Market.MaxSpreadCents / 2 / 100) * p.SpreadFraction

	yesRaw := p.Mid - offset
	noRaw := 1 - (p.Mid + offset)

	yesPrice := roundDownToTick(yesRaw, p.Market.TickSize.Decimals())
	yesPrice = clamp(yesPrice, tick, 1-tick)
	yesPrice = math.Min(yesPrice, roundDownToTick(p.Mid-tick, p.Market.TickSize.Decimals()))

	noPrice := roundDownToTick(noRaw, p.Market.TickSize.Decimals())
	noPrice = clamp(noPrice, tick, 1-tick)
	noPrice = math.Min(noPrice, roundDownToTick((1-p.Mid)-tick, p.Market.TickSize.Decimals()))

	var result Pair
	if t.CanBuyYes() {
		result.Yes = &types.Quote{Side: types.BUY, TokenID: p.Market.YesTokenID, Price: yesPrice, Size: p.OrderSize}
	}
	if t.CanBuyNo() {
		result.No = &types.Quote{Side: types.BUY, TokenID: p.Market.NoTokenID, Price: noPrice, Size: p.OrderSize}
	}
	return result
}

// ShouldRebalance implements the rebalance predicate: refresh if there are
// no live quotes, a forced reason fired (limit state changed, merge
// executed), or the midpoint moved far enough from the last quoted value.
func ShouldRebalance(active types.ActiveQuotes, mid, rebalanceThreshold float64, forced bool) bool {
	if forced {
		return true
	}
	if active.Yes == nil && active.No == nil {
		return true
	}
	return math.Abs(mid-active.LastMidpoint) >= rebalanceThreshold
}
