package orchestrator

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"rewards-mm/internal/config"
	"rewards-mm/internal/rewardmath"
	"rewards-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testOrchestrator(cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		cfg:            config.Config{Orchestrator: cfg},
		logger:         testLogger(),
		marketsVisited: make(map[string]bool),
		startTime:      time.Now(),
	}
}

func TestMarketFromRewarded_MapsRewardBandFields(t *testing.T) {
	t.Parallel()
	rm := types.RewardedMarket{
		ConditionID:           "cond-1",
		Slug:                  "will-it-happen",
		Question:              "Will it happen?",
		YesTokenID:            "yes-token",
		NoTokenID:             "no-token",
		YesPrice:              0.42,
		TickSize:              types.Tick01,
		RewardRatePerDay:      100,
		RewardsMaxSpread:      4,
		RewardsMinSize:        10,
		MarketCompetitiveness: 2.5,
	}

	market := marketFromRewarded(rm, true)

	if market.ConditionID != "cond-1" || market.YesTokenID != "yes-token" || market.NoTokenID != "no-token" {
		t.Fatalf("identity fields not carried over: %+v", market)
	}
	if !market.NegRisk {
		t.Error("expected neg_risk to be carried from the explicit override, not rm.NegRisk")
	}
	if market.MinOrderSize != 10 {
		t.Errorf("min_order_size = %v, want 10 (from RewardsMinSize)", market.MinOrderSize)
	}
	if market.MaxSpreadCents != 4 {
		t.Errorf("max_spread_cents = %v, want 4", market.MaxSpreadCents)
	}
	if market.Midpoint != 0.42 {
		t.Errorf("midpoint = %v, want 0.42", market.Midpoint)
	}
	if !market.Valid() {
		t.Error("expected a fully-populated market to pass Valid()")
	}
}

func TestShareSize_DividesByMidpoint(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{OrderSizeUSD: 50})

	market := types.Market{Midpoint: 0.25}
	if got, want := o.shareSize(market), 200.0; got != want {
		t.Errorf("shareSize = %v, want %v", got, want)
	}
}

func TestShareSize_FallsBackToHalfWhenMidpointIsDegenerate(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{OrderSizeUSD: 50})

	for _, mid := range []float64{0, 1, -0.1, 1.5} {
		market := types.Market{Midpoint: mid}
		if got, want := o.shareSize(market), 100.0; got != want {
			t.Errorf("shareSize(mid=%v) = %v, want %v (fallback to 0.5)", mid, got, want)
		}
	}
}

func TestCheckSwitch_FalseWhenSwitchingDisabled(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{SwitchingEnabled: false})
	o.pending = &pendingSwitch{target: types.RewardedMarket{ConditionID: "cond-2"}}

	if o.checkSwitch() {
		t.Error("expected checkSwitch to refuse when switching is disabled, regardless of a pending target")
	}
}

func TestCheckSwitch_FalseWithNoPendingTarget(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{SwitchingEnabled: true})

	if o.checkSwitch() {
		t.Error("expected checkSwitch to refuse with no armed pending switch")
	}
}

func TestCheckSwitch_TrueWhenArmedAndEnabled(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{SwitchingEnabled: true})
	o.pending = &pendingSwitch{target: types.RewardedMarket{ConditionID: "cond-2"}, detectedAt: time.Now()}

	if !o.checkSwitch() {
		t.Error("expected checkSwitch to approve once a pending switch is armed and switching is enabled")
	}
}

func TestTrackerLimits_UsesConfiguredLiquidityBudget(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{LiquidityUSD: 1000})

	limits := o.trackerLimits()
	if limits.MaxNetExposure != 1000 {
		t.Errorf("max_net_exposure = %v, want 1000", limits.MaxNetExposure)
	}
	if limits.WarnThreshold != defaultWarnThreshold {
		t.Errorf("warn_threshold = %v, want %v", limits.WarnThreshold, defaultWarnThreshold)
	}
}

func TestImprovementFraction_RewardsScenario5(t *testing.T) {
	t.Parallel()
	// current earns $10/day, candidate earns $13/day: 30% improvement.
	current := rewardmath.Estimate{DailyEarningsUSD: 10}
	candidate := rewardmath.Estimate{DailyEarningsUSD: 13}

	got := improvementFraction(current, candidate)
	if want := 0.30; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("improvementFraction = %v, want %v", got, want)
	}
}

func TestImprovementFraction_BelowThresholdDoesNotArm(t *testing.T) {
	t.Parallel()
	current := rewardmath.Estimate{DailyEarningsUSD: 10}
	candidate := rewardmath.Estimate{DailyEarningsUSD: 11} // 10% improvement

	got := improvementFraction(current, candidate)
	threshold := 0.20
	if got >= threshold {
		t.Errorf("improvementFraction = %v, expected below threshold %v", got, threshold)
	}
}

func TestImprovementFraction_ZeroCurrentEarningsTreatsAnyPositiveAsInfinite(t *testing.T) {
	t.Parallel()
	current := rewardmath.Estimate{DailyEarningsUSD: 0}
	candidate := rewardmath.Estimate{DailyEarningsUSD: 5}

	if got := improvementFraction(current, candidate); got != 1.0 {
		t.Errorf("improvementFraction = %v, want 1.0", got)
	}
}

func TestImprovementFraction_BothZeroIsNoImprovement(t *testing.T) {
	t.Parallel()
	if got := improvementFraction(rewardmath.Estimate{}, rewardmath.Estimate{}); got != 0 {
		t.Errorf("improvementFraction = %v, want 0", got)
	}
}

func TestClearPending_RemovesArmedSwitch(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{SwitchingEnabled: true})
	o.pending = &pendingSwitch{target: types.RewardedMarket{ConditionID: "cond-2"}}

	o.clearPending()

	if o.pending != nil {
		t.Error("expected clearPending to remove the armed switch")
	}
}

func TestScoreOpenOrders_ScoresRestingLevelsOnBothSides(t *testing.T) {
	t.Parallel()
	market := types.RewardedMarket{
		YesTokenID:            "yes-token",
		NoTokenID:             "no-token",
		RewardsMaxSpread:      4,
		RewardsMinSize:        10,
		RewardRatePerDay:      100,
		MarketCompetitiveness: 50,
	}
	orders := []types.OpenOrder{
		{Status: "live", AssetID: "yes-token", Price: "0.48", OriginalSize: "100", SizeMatched: "0"},
		{Status: "live", AssetID: "no-token", Price: "0.50", OriginalSize: "100", SizeMatched: "40"},
	}

	got := scoreOpenOrders(market, 0.50, orders)

	if !got.Compatible {
		t.Fatal("expected Compatible to be true when orders score above zero")
	}
	if got.DailyEarningsUSD <= 0 {
		t.Errorf("DailyEarningsUSD = %v, want > 0", got.DailyEarningsUSD)
	}
}

func TestScoreOpenOrders_IgnoresFullyFilledAndUnparsableOrders(t *testing.T) {
	t.Parallel()
	market := types.RewardedMarket{
		YesTokenID:            "yes-token",
		NoTokenID:             "no-token",
		RewardsMaxSpread:      4,
		RewardsMinSize:        10,
		RewardRatePerDay:      100,
		MarketCompetitiveness: 50,
	}
	orders := []types.OpenOrder{
		{Status: "live", AssetID: "yes-token", Price: "0.48", OriginalSize: "100", SizeMatched: "100"}, // fully filled
		{Status: "live", AssetID: "yes-token", Price: "bogus", OriginalSize: "100", SizeMatched: "0"},   // unparsable price
		{Status: "live", AssetID: "other-token", Price: "0.48", OriginalSize: "100", SizeMatched: "0"},  // neither side
	}

	got := scoreOpenOrders(market, 0.50, orders)

	if got.DailyEarningsUSD != 0 {
		t.Errorf("DailyEarningsUSD = %v, want 0 (every order should have been dropped)", got.DailyEarningsUSD)
	}
}

func TestRealizedVolatility_FewerThanTwoSamplesIsNotOk(t *testing.T) {
	t.Parallel()
	if _, ok := realizedVolatility(nil); ok {
		t.Error("expected ok=false with no samples")
	}
	if _, ok := realizedVolatility([]pricePoint{{price: 0.5}}); ok {
		t.Error("expected ok=false with a single sample")
	}
}

func TestRealizedVolatility_ConstantPriceIsZero(t *testing.T) {
	t.Parallel()
	history := []pricePoint{{price: 0.5}, {price: 0.5}, {price: 0.5}}

	vol, ok := realizedVolatility(history)
	if !ok {
		t.Fatal("expected ok=true with three samples")
	}
	if vol != 0 {
		t.Errorf("vol = %v, want 0 for a constant price series", vol)
	}
}

func TestRealizedVolatility_SwingingPriceIsPositive(t *testing.T) {
	t.Parallel()
	history := []pricePoint{{price: 0.5}, {price: 0.6}, {price: 0.45}, {price: 0.55}}

	vol, ok := realizedVolatility(history)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if vol <= 0 {
		t.Errorf("vol = %v, want > 0 for a swinging price series", vol)
	}
}

func TestPruneOlderThan_DropsSamplesAtOrBeforeCutoff(t *testing.T) {
	t.Parallel()
	now := time.Now()
	history := []pricePoint{
		{at: now.Add(-2 * time.Hour), price: 0.1},
		{at: now.Add(-30 * time.Minute), price: 0.2},
		{at: now, price: 0.3},
	}

	got := pruneOlderThan(history, now.Add(-time.Hour))

	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2, got %+v", len(got), got)
	}
	if got[0].price != 0.2 || got[1].price != 0.3 {
		t.Errorf("got = %+v, want samples at -30m and now", got)
	}
}

func TestFilterByVolatility_PassesThroughWhenFilterDisabled(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{NoVolatilityFilter: true, MaxVolatility: 0.01})
	o.priceHistory = map[string][]pricePoint{
		"cond-1": {{price: 0.1}, {price: 0.9}},
	}
	candidates := []types.RewardedMarket{{ConditionID: "cond-1"}}

	got := o.filterByVolatility(candidates)

	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (filter disabled, everything passes)", len(got))
	}
}

func TestFilterByVolatility_PassesThroughWhenMaxVolatilityUnset(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{MaxVolatility: 0})
	o.priceHistory = map[string][]pricePoint{
		"cond-1": {{price: 0.1}, {price: 0.9}},
	}
	candidates := []types.RewardedMarket{{ConditionID: "cond-1"}}

	got := o.filterByVolatility(candidates)

	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (MaxVolatility <= 0 means no cap configured)", len(got))
	}
}

func TestFilterByVolatility_DropsCandidateAboveCeiling(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{MaxVolatility: 0.01})
	o.priceHistory = map[string][]pricePoint{
		"calm":   {{price: 0.50}, {price: 0.501}, {price: 0.499}},
		"choppy": {{price: 0.10}, {price: 0.90}, {price: 0.15}},
	}
	candidates := []types.RewardedMarket{{ConditionID: "calm"}, {ConditionID: "choppy"}}

	got := o.filterByVolatility(candidates)

	if len(got) != 1 || got[0].ConditionID != "calm" {
		t.Fatalf("got = %+v, want only the calm market to survive", got)
	}
}

func TestFilterByVolatility_KeepsCandidateWithNoHistoryYet(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{MaxVolatility: 0.01})
	candidates := []types.RewardedMarket{{ConditionID: "unseen"}}

	got := o.filterByVolatility(candidates)

	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1 (no samples yet, so realizedVolatility reports ok=false and the candidate passes)", len(got))
	}
}

func TestSetCurrentAndGetCurrent_RoundTrips(t *testing.T) {
	t.Parallel()
	o := testOrchestrator(config.OrchestratorConfig{})

	if _, _, ok := o.getCurrent(); ok {
		t.Fatal("expected getCurrent to report not-set before the first setCurrent")
	}

	o.setCurrent(types.RewardedMarket{ConditionID: "cond-1"}, rewardmath.Estimate{DailyEarningsUSD: 42})

	market, est, ok := o.getCurrent()
	if !ok || market.ConditionID != "cond-1" || est.DailyEarningsUSD != 42 {
		t.Errorf("getCurrent = (%+v, %+v, %v), want (cond-1, {DailyEarningsUSD:42}, true)", market, est, ok)
	}
}

func TestConfirmTyped_ExactMatchRequired(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"RESUME\n", true},
		{"RESUME", true},
		{"  RESUME  \n", true},
		{"resume\n", false},
		{"no\n", false},
		{"\n", false},
	}

	for _, tc := range cases {
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("create pipe: %v", err)
		}
		if _, err := w.WriteString(tc.input); err != nil {
			t.Fatalf("write input: %v", err)
		}
		w.Close()

		orig := os.Stdin
		os.Stdin = r
		got := confirmTyped("prompt: ", "RESUME")
		os.Stdin = orig
		r.Close()

		if got != tc.want {
			t.Errorf("confirmTyped(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

