// Package marketmaker drives a single market through one rebalance cycle at
// a time: debounce midpoint updates, decide whether quotes need refreshing,
// cancel-and-replace, attribute fills, and fall back to REST polling when
// the market-data WebSocket drops.
//
// The select loop shape is one goroutine per market, a ticker plus a
// handful of event channels; the reward-band quote math comes from
// internal/quote, the ledger from internal/tracker.
package marketmaker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"rewards-mm/internal/exchange"
	"rewards-mm/internal/quote"
	"rewards-mm/internal/settlement"
	"rewards-mm/internal/store"
	"rewards-mm/internal/tracker"
	"rewards-mm/internal/wsfeed"
	"rewards-mm/pkg/types"
)

// Config is the per-market tuning the orchestrator supplies when starting a Maker.
type Config struct {
	SpreadFraction       float64       // (0, 1], fraction of max_spread_cents quoted inside the band
	OrderSize            float64       // shares per side
	RebalanceThreshold   float64       // midpoint move (price units) that forces a requote
	DebounceDelay        time.Duration // coalescing window after a midpoint update, default 50ms
	FallbackPollInterval time.Duration // REST poll cadence while the market feed is disconnected
	SwitchCheckInterval  time.Duration // cadence of the periodic "may I exit" check, default 10s
	MergeEnabled         bool
	MinMergeAmount       float64 // neutral position below this is left alone
}

// DefaultDebounceDelay and DefaultSwitchCheckInterval are the documented
// default tuning values; callers building a Config from CLI flags should
// start from these.
const (
	DefaultDebounceDelay       = 50 * time.Millisecond
	DefaultSwitchCheckInterval = 10 * time.Second
)

// SwitchChecker lets the orchestrator answer "is a better market waiting"
// without the marketmaker package importing the orchestrator.
type SwitchChecker func() bool

// ExitResult is what Run returns when it stops quoting a market.
type ExitResult struct {
	Reason types.ExitReason
	Err    error
}

// Maker drives one market: one goroutine, one Run call, one condition_id.
type Maker struct {
	market      types.Market
	cfg         Config
	trk         *tracker.Tracker
	exchange    *exchange.Client
	settlement  settlement.Client
	store       *store.Store
	checkSwitch SwitchChecker
	logger      *slog.Logger

	rebalanceMu sync.Mutex // serializes rebalance cycles; concurrent triggers coalesce

	active     types.ActiveQuotes
	orderToken map[string]string // orderID -> token_id, for fill attribution independent of event asset_id
}

// New builds a Maker for one market. checkSwitch may be nil, meaning this
// maker never voluntarily exits for a better opportunity.
func New(market types.Market, cfg Config, trk *tracker.Tracker, ex *exchange.Client, settle settlement.Client, st *store.Store, checkSwitch SwitchChecker, logger *slog.Logger) *Maker {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}
	if cfg.SwitchCheckInterval <= 0 {
		cfg.SwitchCheckInterval = DefaultSwitchCheckInterval
	}
	return &Maker{
		market:      market,
		cfg:         cfg,
		trk:         trk,
		exchange:    ex,
		settlement:  settle,
		store:       st,
		checkSwitch: checkSwitch,
		logger:      logger.With("component", "marketmaker", "condition_id", market.ConditionID),
		orderToken:  make(map[string]string),
	}
}

// Run is the per-market event loop. It blocks until ctx is cancelled or an
// exit condition is reached, then cancels any resting quotes before
// returning. midpoints and trades should already be filtered to this
// market's tokens by the caller (the orchestrator owns channel fan-out);
// connected reports market-feed connect/disconnect transitions.
func (m *Maker) Run(ctx context.Context, midpoints <-chan wsfeed.MidpointUpdate, connected <-chan bool, trades <-chan types.WSTradeEvent) ExitResult {
	m.logger.Info("market maker started", "tick_size", m.market.TickSize, "order_size", m.cfg.OrderSize)

	debounce := time.NewTimer(m.cfg.DebounceDelay)
	if !debounce.Stop() {
		<-debounce.C
	}
	var pendingMid float64
	haveMid := false

	switchTicker := time.NewTicker(m.cfg.SwitchCheckInterval)
	defer switchTicker.Stop()

	var fallbackTicker *time.Ticker
	var fallbackC <-chan time.Time
	defer func() {
		if fallbackTicker != nil {
			fallbackTicker.Stop()
		}
	}()

	lastBlocked := m.trk.LimitStatus().BlockedSide

	for {
		select {
		case <-ctx.Done():
			m.shutdown(context.Background())
			return ExitResult{Reason: types.ExitShutdown}

		case update, ok := <-midpoints:
			if !ok {
				midpoints = nil
				continue
			}
			if update.AssetID != m.market.YesTokenID {
				continue
			}
			pendingMid = update.Midpoint
			haveMid = true
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(m.cfg.DebounceDelay)

		case isUp, ok := <-connected:
			if !ok {
				connected = nil
				continue
			}
			if isUp {
				if fallbackTicker != nil {
					fallbackTicker.Stop()
					fallbackTicker = nil
					fallbackC = nil
					m.logger.Info("market feed reconnected, stopping fallback polling")
				}
			} else if fallbackTicker == nil {
				fallbackTicker = time.NewTicker(m.cfg.FallbackPollInterval)
				fallbackC = fallbackTicker.C
				m.logger.Warn("market feed disconnected, starting fallback REST polling")
			}

		case <-debounce.C:
			if !haveMid {
				continue
			}
			if exit, done := m.runCycleLogged(ctx, pendingMid, false); done {
				m.shutdown(context.Background())
				return exit
			}

		case <-fallbackC:
			mid, err := m.fetchRESTMidpoint(ctx)
			if err != nil {
				m.logger.Error("fallback midpoint poll failed", "error", err)
				continue
			}
			pendingMid = mid
			haveMid = true
			if exit, done := m.runCycleLogged(ctx, mid, false); done {
				m.shutdown(context.Background())
				return exit
			}

		case trade, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			m.handleFill(trade)

			status := m.trk.LimitStatus()
			if status.IsLimitReached {
				m.logger.Warn("position limit reached", "blocked_side", status.BlockedSide, "utilization_pct", status.UtilizationPct)
				m.shutdown(context.Background())
				return ExitResult{Reason: types.ExitPositionLimit}
			}
			if status.BlockedSide != lastBlocked && haveMid {
				lastBlocked = status.BlockedSide
				if exit, done := m.runCycleLogged(ctx, pendingMid, true); done {
					m.shutdown(context.Background())
					return exit
				}
			}
			lastBlocked = status.BlockedSide

		case <-switchTicker.C:
			if m.readyToSwitch() {
				m.logger.Info("switch approved at neutral exposure")
				m.shutdown(context.Background())
				return ExitResult{Reason: types.ExitNeutral}
			}
		}
	}
}

func (m *Maker) readyToSwitch() bool {
	if m.checkSwitch == nil || !m.checkSwitch() {
		return false
	}
	return m.trk.Snapshot().NetExposure() == 0
}

// runCycleLogged runs one rebalance cycle and translates its result into a
// (possibly empty) exit plus whether Run should return.
func (m *Maker) runCycleLogged(ctx context.Context, mid float64, forced bool) (ExitResult, bool) {
	reason, err := m.rebalance(ctx, mid, forced)
	if err != nil {
		m.logger.Error("rebalance cycle failed", "error", err)
	}
	if reason == "" {
		return ExitResult{}, false
	}
	return ExitResult{Reason: reason}, true
}

// rebalance runs one per-cycle sequence: opportunistic merge,
// position/PnL logging, the rebalance predicate, cancel+requote, then the
// position-limit and switch-readiness checks. It never runs concurrently
// with itself — concurrent triggers coalesce on rebalanceMu and the most
// recently observed midpoint wins.
func (m *Maker) rebalance(ctx context.Context, mid float64, forced bool) (types.ExitReason, error) {
	m.rebalanceMu.Lock()
	defer m.rebalanceMu.Unlock()

	if m.cfg.MergeEnabled {
		if merged, err := m.maybeMerge(ctx); err != nil {
			m.logger.Error("merge failed", "error", err)
		} else if merged {
			forced = true
		}
	}

	snap := m.trk.Snapshot()
	m.logger.Info("position",
		"net_exposure", snap.NetExposure(),
		"neutral", snap.NeutralPosition(),
		"unrealized_pnl", m.trk.UnrealizedPnL(mid),
		"realized_pnl", snap.Economics.RealizedPnL,
	)

	if quote.ShouldRebalance(m.active, mid, m.cfg.RebalanceThreshold, forced) {
		if err := m.replaceQuotes(ctx, mid); err != nil {
			return "", fmt.Errorf("replace quotes: %w", err)
		}
	}

	if status := m.trk.LimitStatus(); status.IsLimitReached {
		return types.ExitPositionLimit, nil
	}
	if m.readyToSwitch() {
		return types.ExitNeutral, nil
	}
	return "", nil
}

// maybeMerge converts the mergeable (min(yes,no)) portion of the position
// back into collateral when it clears the configured floor. Reports true
// only when a merge actually happened, so the caller can force a requote.
func (m *Maker) maybeMerge(ctx context.Context) (bool, error) {
	neutral := m.trk.Snapshot().NeutralPosition()
	if neutral <= m.cfg.MinMergeAmount {
		return false, nil
	}

	res, err := m.settlement.Merge(ctx, m.market.ConditionID, neutral)
	if err != nil {
		return false, fmt.Errorf("settlement merge: %w", err)
	}
	if err := m.trk.Merge(neutral); err != nil {
		return false, fmt.Errorf("tracker merge after on-chain confirmation: %w", err)
	}
	m.logger.Info("merged neutral position", "amount", neutral, "tx_hash", res.TxHash)
	if err := m.persist(); err != nil {
		m.logger.Error("persist fill ledger after merge failed", "error", err)
	}
	return true, nil
}

// replaceQuotes cancels any live quote that needs to move, regenerates the
// pair from the current midpoint and exposure gating, and places whatever
// slots came back empty. A cancel whose HTTP call fails is re-verified
// against the live open-order set before a replacement is placed for that
// side — an order confirmed still open is left alone this cycle rather than
// risking a duplicate.
func (m *Maker) replaceQuotes(ctx context.Context, mid float64) error {
	pair := quote.Generate(quote.Params{
		Market:         m.market,
		Mid:            mid,
		SpreadFraction: m.cfg.SpreadFraction,
		OrderSize:      m.cfg.OrderSize,
	}, m.trk)

	var wg sync.WaitGroup
	if m.active.Yes != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.cancelAndVerify(ctx, m.active.Yes.OrderID) {
				m.active.Yes = nil
			}
		}()
	}
	if m.active.No != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.cancelAndVerify(ctx, m.active.No.OrderID) {
				m.active.No = nil
			}
		}()
	}
	wg.Wait()

	var toPlace []types.UserOrder
	var placeTokens []string
	if m.active.Yes == nil && pair.Yes != nil {
		toPlace = append(toPlace, m.toUserOrder(*pair.Yes))
		placeTokens = append(placeTokens, m.market.YesTokenID)
	}
	if m.active.No == nil && pair.No != nil {
		toPlace = append(toPlace, m.toUserOrder(*pair.No))
		placeTokens = append(placeTokens, m.market.NoTokenID)
	}

	m.active.LastMidpoint = mid
	if len(toPlace) == 0 {
		return nil
	}

	results, err := m.exchange.PostOrders(ctx, toPlace, m.market.NegRisk)
	if err != nil {
		// Order placement failure must not mutate the active-quotes slot for
		// that side — both slots above are already nil (cancelled), so
		// there is nothing to roll back; the next cycle retries.
		return fmt.Errorf("post orders: %w", err)
	}

	for i, res := range results {
		if !res.Success || res.OrderID == "" {
			m.logger.Warn("quote rejected", "token_id", placeTokens[i], "price", toPlace[i].Price, "error", res.ErrorMsg)
			continue
		}
		slot := &types.QuoteSlot{OrderID: res.OrderID, Price: toPlace[i].Price}
		m.orderToken[res.OrderID] = placeTokens[i]
		if placeTokens[i] == m.market.YesTokenID {
			m.active.Yes = slot
		} else {
			m.active.No = slot
		}
	}
	return nil
}

func (m *Maker) toUserOrder(q types.Quote) types.UserOrder {
	return types.UserOrder{
		TokenID:   q.TokenID,
		Price:     q.Price,
		Size:      q.Size,
		Side:      q.Side,
		OrderType: types.OrderTypeGTC,
		TickSize:  m.market.TickSize,
	}
}

// cancelAndVerify cancels orderID, tolerating an HTTP failure by falling
// back to the open-orders list: if the order is confirmed gone either way,
// it returns true and the caller is clear to replace it; otherwise it
// returns false and the slot is left untouched for this cycle.
func (m *Maker) cancelAndVerify(ctx context.Context, orderID string) bool {
	if _, err := m.exchange.CancelOrders(ctx, []string{orderID}); err != nil {
		m.logger.Warn("cancel order failed, verifying via open orders", "order_id", orderID, "error", err)
	}

	open, err := m.exchange.GetOpenOrders(ctx, m.market.ConditionID)
	if err != nil {
		m.logger.Error("verify cancel failed, skipping replacement this cycle", "order_id", orderID, "error", err)
		return false
	}
	for _, o := range open {
		if o.ID == orderID {
			m.logger.Warn("order still open after cancel, skipping replacement this cycle", "order_id", orderID)
			return false
		}
	}
	delete(m.orderToken, orderID)
	return true
}

// fetchRESTMidpoint is the fallback midpoint source while the market feed
// is disconnected: the best-bid/best-ask average off the YES book. It does
// not reproduce the WebSocket feed's last-trade-price wide-spread fallback,
// since the CLOB REST API exposes no equivalent endpoint.
func (m *Maker) fetchRESTMidpoint(ctx context.Context) (float64, error) {
	book, err := m.exchange.GetOrderBook(ctx, m.market.YesTokenID)
	if err != nil {
		return 0, fmt.Errorf("get order book: %w", err)
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return 0, fmt.Errorf("empty book for fallback midpoint")
	}
	bid, err1 := strconv.ParseFloat(book.Bids[0].Price, 64)
	ask, err2 := strconv.ParseFloat(book.Asks[0].Price, 64)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("parse book prices")
	}
	return (bid + ask) / 2, nil
}

// handleFill applies a trade event to the ledger, resolving its token using
// the order registry when the event's own asset_id doesn't match either
// outcome of this market, and persists the updated ledger.
func (m *Maker) handleFill(evt types.WSTradeEvent) {
	fill := m.toFill(evt)
	if err := m.trk.ProcessFill(fill); err != nil {
		m.logger.Warn("drop fill", "trade_id", evt.ID, "error", err)
		return
	}
	if err := m.persist(); err != nil {
		m.logger.Error("persist fill ledger failed", "error", err)
	}
	m.logger.Info("fill applied", "token_id", fill.TokenID, "side", fill.Side, "price", fill.Price, "size", fill.Size)
}

func (m *Maker) toFill(evt types.WSTradeEvent) types.Fill {
	price, _ := strconv.ParseFloat(evt.Price, 64)
	size, _ := strconv.ParseFloat(evt.Size, 64)

	tokenID := evt.AssetID
	if tokenID != m.market.YesTokenID && tokenID != m.market.NoTokenID {
		for _, oid := range evt.MakerOrders {
			if tok, ok := m.orderToken[oid]; ok {
				tokenID = tok
				break
			}
		}
	}

	return types.Fill{
		ID:        evt.ID,
		TokenID:   tokenID,
		Side:      types.Side(evt.Side),
		Price:     price,
		Size:      size,
		Timestamp: time.Now(),
		Status:    types.FillConfirmed,
	}
}

func (m *Maker) persist() error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveFillLedger(m.trk.Snapshot())
}

// shutdown cancels any resting quotes and clears local bookkeeping. Called
// on every exit path so the orchestrator never hands a market to a
// liquidator or a new maker with stale orders still live.
func (m *Maker) shutdown(ctx context.Context) {
	if _, err := m.exchange.CancelMarketOrders(ctx, m.market.ConditionID); err != nil {
		m.logger.Error("cancel orders on shutdown failed", "error", err)
	}
	m.active = types.ActiveQuotes{}
	m.orderToken = make(map[string]string)
	m.logger.Info("market maker stopped")
}
