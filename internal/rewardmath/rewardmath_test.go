package rewardmath

import (
	"math"
	"testing"

	"rewards-mm/pkg/types"
)

const epsilon = 0.01

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestS_ScoringParity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		v, s    float64
		size    float64
		minSize float64
		want    float64
	}{
		{"v=3,s=1,size=100", 3, 1, 100, 1, 44.44},
		{"v=3,s=2,size=200", 3, 2, 200, 1, 22.22},
		{"v=3,s=1.5,size=100", 3, 1.5, 100, 1, 25.00},
		{"v=3,s=0.5,size=200", 3, 0.5, 200, 1, 138.89},
		{"v=3,s=3,size=100 (at band edge)", 3, 3, 100, 1, 0},
		{"v=3,s=5,size=100 (beyond band)", 3, 5, 100, 1, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := S(tt.v, tt.s, tt.size, tt.minSize)
			if !approxEqual(got, tt.want) {
				t.Errorf("S(%v, %v, %v, %v) = %v, want %v", tt.v, tt.s, tt.size, tt.minSize, got, tt.want)
			}
		})
	}
}

func TestS_ZeroBeyondBandOrBelowMinSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v, s, size, minSize float64
	}{
		{3, 3, 100, 1}, // s == v
		{3, 4, 100, 1}, // s > v
		{3, 1, 0.5, 1}, // size < minSize
	}

	for _, tt := range tests {
		if got := S(tt.v, tt.s, tt.size, tt.minSize); got != 0 {
			t.Errorf("S(%v, %v, %v, %v) = %v, want 0", tt.v, tt.s, tt.size, tt.minSize, got)
		}
	}
}

func TestS_StrictlyDecreasingInS(t *testing.T) {
	t.Parallel()

	v, size, minSize := 3.0, 100.0, 1.0
	prev := S(v, 0, size, minSize)
	for s := 0.1; s < v; s += 0.1 {
		cur := S(v, s, size, minSize)
		if cur >= prev {
			t.Fatalf("S not strictly decreasing at s=%v: prev=%v cur=%v", s, prev, cur)
		}
		prev = cur
	}
}

func TestS_LinearInSize(t *testing.T) {
	t.Parallel()

	v, s, minSize := 3.0, 1.0, 1.0
	base := S(v, s, 1, minSize)
	doubled := S(v, s, 2, minSize)
	if !approxEqual(doubled, base*2) {
		t.Errorf("S not linear in size: S(size=1)=%v, S(size=2)=%v", base, doubled)
	}
}

func TestQMin_TwoSidedSwitch(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	// mp=0.50 is inside the competitive band: scaled term (100/3=33.33)
	// beats the naive min (0) since Q_two=0.
	got := QMin(100, 0, 0.50, cfg)
	if !approxEqual(got, 33.33) {
		t.Errorf("QMin(100, 0, 0.50) = %v, want 33.33", got)
	}

	// mp=0.95 is outside the band: falls back to the plain minimum, which
	// is 0 since Q_two=0.
	got = QMin(100, 0, 0.95, cfg)
	if got != 0 {
		t.Errorf("QMin(100, 0, 0.95) = %v, want 0", got)
	}
}

func TestQMin_InsideBandTakesNaiveMinWhenLarger(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	// Both sides substantial and close: naive min should dominate the
	// scaled-down term.
	got := QMin(90, 80, 0.5, cfg)
	if !approxEqual(got, 80) {
		t.Errorf("QMin(90, 80, 0.5) = %v, want 80", got)
	}
}

func TestEarningFraction(t *testing.T) {
	t.Parallel()

	if f := EarningFraction(0, 0); f != 0 {
		t.Errorf("EarningFraction(0,0) = %v, want 0", f)
	}
	if f := EarningFraction(50, 50); !approxEqual(f, 0.5) {
		t.Errorf("EarningFraction(50,50) = %v, want 0.5", f)
	}
}

func TestRank_DropsIncompatibleAndOrdersByEarnings(t *testing.T) {
	t.Parallel()

	candidates := []types.RewardedMarket{
		{ConditionID: "a", YesPrice: 0.5, RewardsMaxSpread: 4, RewardsMinSize: 5, RewardRatePerDay: 100, MarketCompetitiveness: 10},
		{ConditionID: "b", YesPrice: 0.5, RewardsMaxSpread: 4, RewardsMinSize: 5, RewardRatePerDay: 10, MarketCompetitiveness: 10},
		{ConditionID: "c", YesPrice: 0.01, RewardsMaxSpread: 1, RewardsMinSize: 1000, RewardRatePerDay: 1000, MarketCompetitiveness: 1},
	}

	ranked := Rank(candidates, 100, DefaultConfig())

	for _, r := range ranked {
		if r.Market.ConditionID == "c" {
			t.Fatalf("expected incompatible market %q to be dropped from ranking", "c")
		}
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 compatible candidates, got %d", len(ranked))
	}
	if ranked[0].Market.ConditionID != "a" {
		t.Errorf("expected market %q ranked first, got %q", "a", ranked[0].Market.ConditionID)
	}
}
