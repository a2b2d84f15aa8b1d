package wsfeed

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"rewards-mm/pkg/types"
)

func testFeed() *Feed {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewMarketFeed("wss://example.invalid", logger)
}

func recvMidpoint(t *testing.T, f *Feed) MidpointUpdate {
	t.Helper()
	select {
	case u := <-f.midpointCh:
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for midpoint update")
		return MidpointUpdate{}
	}
}

func TestUpdateFromBook_TightSpreadUsesBookMidpoint(t *testing.T) {
	t.Parallel()
	f := testFeed()

	f.updateFromBook(types.WSBookEvent{
		AssetID: "tok1",
		Buys:    []types.PriceLevel{{Price: "0.48", Size: "10"}},
		Sells:   []types.PriceLevel{{Price: "0.50", Size: "10"}},
	})

	u := recvMidpoint(t, f)
	if u.AssetID != "tok1" || u.Midpoint != 0.49 {
		t.Errorf("got %+v, want midpoint 0.49 for tok1", u)
	}
}

func TestUpdateFromBook_WideSpreadSuppressesMidpoint(t *testing.T) {
	t.Parallel()
	f := testFeed()

	f.updateFromBook(types.WSBookEvent{
		AssetID: "tok1",
		Buys:    []types.PriceLevel{{Price: "0.30", Size: "10"}},
		Sells:   []types.PriceLevel{{Price: "0.60", Size: "10"}},
	})

	select {
	case u := <-f.midpointCh:
		t.Errorf("expected no midpoint update for a 30-cent spread, got %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateFromLastTrade_FallsBackWhenBookUnknownOrWide(t *testing.T) {
	t.Parallel()
	f := testFeed()

	f.updateFromLastTrade(types.WSLastTradePriceEvent{AssetID: "tok1", Price: "0.55"})
	u := recvMidpoint(t, f)
	if u.Midpoint != 0.55 {
		t.Errorf("midpoint = %v, want 0.55 (last trade, no book cached)", u.Midpoint)
	}
}

func TestUpdateFromLastTrade_IgnoredWhenBookIsTight(t *testing.T) {
	t.Parallel()
	f := testFeed()

	f.updateFromBook(types.WSBookEvent{
		AssetID: "tok1",
		Buys:    []types.PriceLevel{{Price: "0.48", Size: "10"}},
		Sells:   []types.PriceLevel{{Price: "0.50", Size: "10"}},
	})
	recvMidpoint(t, f) // drain the book-derived update

	f.updateFromLastTrade(types.WSLastTradePriceEvent{AssetID: "tok1", Price: "0.80"})

	select {
	case u := <-f.midpointCh:
		t.Errorf("expected the tight book to win over a stale trade print, got %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateFromBestBidAsk(t *testing.T) {
	t.Parallel()
	f := testFeed()

	f.updateFromBestBidAsk(types.WSBestBidAskEvent{AssetID: "tok2", BestBid: "0.40", BestAsk: "0.42"})

	u := recvMidpoint(t, f)
	if u.AssetID != "tok2" || u.Midpoint != 0.41 {
		t.Errorf("got %+v, want midpoint 0.41 for tok2", u)
	}
}

func TestUpdateFromPriceChange_MultipleAssetsEachEmit(t *testing.T) {
	t.Parallel()
	f := testFeed()

	f.updateFromPriceChange(types.WSPriceChangeEvent{
		PriceChanges: []types.WSPriceChange{
			{AssetID: "a", BestBid: "0.10", BestAsk: "0.12"},
			{AssetID: "b", BestBid: "0.60", BestAsk: "0.62"},
		},
	})

	seen := map[string]float64{}
	for i := 0; i < 2; i++ {
		u := recvMidpoint(t, f)
		seen[u.AssetID] = u.Midpoint
	}
	if seen["a"] != 0.11 || seen["b"] != 0.61 {
		t.Errorf("seen = %+v, want a=0.11 b=0.61", seen)
	}
}
