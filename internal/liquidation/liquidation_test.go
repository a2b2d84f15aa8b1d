package liquidation

import (
	"log/slog"
	"os"
	"testing"

	"rewards-mm/internal/tracker"
	"rewards-mm/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testMarket() types.Market {
	return types.Market{
		ConditionID: "cond-1",
		YesTokenID:  "yes-token",
		NoTokenID:   "no-token",
		TickSize:    types.Tick001,
	}
}

func TestComputeMaxBuyPrice_LongYes(t *testing.T) {
	t.Parallel()
	trk := tracker.InitializeFresh("cond-1", "yes-token", "no-token", 0, 0, tracker.Limits{MaxNetExposure: 1000, WarnThreshold: 0.8})
	if err := trk.ProcessFill(types.Fill{ID: "f1", TokenID: "yes-token", Side: types.BUY, Price: 0.60, Size: 50}); err != nil {
		t.Fatalf("seed fill: %v", err)
	}

	ceiling := ComputeMaxBuyPrice(trk)
	if ceiling == nil {
		t.Fatal("expected a computed ceiling")
	}
	if got, want := *ceiling, 0.40; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("max_buy_price = %v, want %v", got, want)
	}
}

func TestComputeMaxBuyPrice_NilWhenFlat(t *testing.T) {
	t.Parallel()
	trk := tracker.InitializeFresh("cond-1", "yes-token", "no-token", 0, 0, tracker.Limits{MaxNetExposure: 1000, WarnThreshold: 0.8})

	if ceiling := ComputeMaxBuyPrice(trk); ceiling != nil {
		t.Errorf("expected nil ceiling at zero exposure, got %v", *ceiling)
	}
}

func TestComputeMaxBuyPrice_LongNo(t *testing.T) {
	t.Parallel()
	trk := tracker.InitializeFresh("cond-1", "yes-token", "no-token", 0, 0, tracker.Limits{MaxNetExposure: 1000, WarnThreshold: 0.8})
	if err := trk.ProcessFill(types.Fill{ID: "f1", TokenID: "no-token", Side: types.BUY, Price: 0.35, Size: 20}); err != nil {
		t.Fatalf("seed fill: %v", err)
	}

	ceiling := ComputeMaxBuyPrice(trk)
	if ceiling == nil {
		t.Fatal("expected a computed ceiling")
	}
	if got, want := *ceiling, 0.65; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("max_buy_price = %v, want %v", got, want)
	}
}

func TestEnqueueAndEntries_TracksQueuedMarkets(t *testing.T) {
	t.Parallel()
	trk := tracker.InitializeFresh("cond-1", "yes-token", "no-token", 50, 0, tracker.Limits{MaxNetExposure: 1000, WarnThreshold: 0.8})
	m := NewManager(nil, nil, testLogger())

	if err := m.Enqueue(testMarket(), trk); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ids := m.Entries()
	if len(ids) != 1 || ids[0] != "cond-1" {
		t.Errorf("entries = %v, want [cond-1]", ids)
	}
}

func TestClampAndRoundToTick(t *testing.T) {
	t.Parallel()
	if got := clamp(1.5, 0.01, 0.99); got != 0.99 {
		t.Errorf("clamp high = %v, want 0.99", got)
	}
	if got := clamp(-0.5, 0.01, 0.99); got != 0.01 {
		t.Errorf("clamp low = %v, want 0.01", got)
	}
	if got := roundToTick(0.6034, 2); got != 0.60 {
		t.Errorf("roundToTick = %v, want 0.60", got)
	}
}
