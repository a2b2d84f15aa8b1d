// Package liquidation runs the passive-stage liquidator: for every market
// the orchestrator has moved out of active market making because a position
// limit was hit, it posts a single SELL quote on the over-held side, priced
// never below the holder's own cost basis, and dequeues the market once
// exposure has wound down to near zero.
//
// Skewed/Aggressive/Market are reserved stage names for future escalation by
// time-in-queue; only Passive is implemented.
package liquidation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"rewards-mm/internal/exchange"
	"rewards-mm/internal/store"
	"rewards-mm/internal/tracker"
	"rewards-mm/pkg/types"
)

// managementInterval is the liquidation manager's tick cadence, fixed at
// 30s — unlike the market maker's debounce, this is not operator-tunable.
const managementInterval = 30 * time.Second

// exitExposureFloor is the |net_exposure| below which a market leaves the
// liquidation queue entirely.
const exitExposureFloor = 0.1

// requoteThreshold is how far the target sell price has to move from the
// last quoted price before the liquidator cancels and replaces.
const requoteThreshold = 0.005

// Entry is one market under active liquidation.
type Entry struct {
	Market         types.Market
	Tracker        *tracker.Tracker
	StartedAt      time.Time
	Stage          types.LiquidationStage
	ActiveOrderID  string
	LastQuotePrice float64
	MaxBuyPrice    *float64 // break-even ceiling mirrored onto the opposite token; nil if cost basis unknown
}

// Manager owns the liquidation queue: one goroutine, a 30s ticker, a
// mutex-guarded map keyed by condition_id — the same standalone-ticker
// shape as internal/risk.Manager, repurposed from "detect and kill" to
// "detect and manage a protected sell."
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	exchange *exchange.Client
	store    *store.Store
	logger   *slog.Logger
}

// NewManager builds an empty liquidation manager.
func NewManager(ex *exchange.Client, st *store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		entries:  make(map[string]*Entry),
		exchange: ex,
		store:    st,
		logger:   logger.With("component", "liquidation"),
	}
}

// ComputeMaxBuyPrice computes the break-even ceiling: for a holder long
// YES, the mirrored buy-side ceiling is 1 − avg_yes_cost; long NO,
// 1 − avg_no_cost. Returns nil if the relevant average cost is unknown, or
// if net_exposure is (near) zero.
func ComputeMaxBuyPrice(trk *tracker.Tracker) *float64 {
	net := trk.Snapshot().NetExposure()
	switch {
	case net > 0:
		if avg, ok := trk.AvgYesCost(); ok {
			ceiling := 1 - avg
			return &ceiling
		}
	case net < 0:
		if avg, ok := trk.AvgNoCost(); ok {
			ceiling := 1 - avg
			return &ceiling
		}
	}
	return nil
}

// Enqueue moves a market into the liquidation queue at the Passive stage
// and persists the queue.
func (m *Manager) Enqueue(market types.Market, trk *tracker.Tracker) error {
	m.mu.Lock()
	m.entries[market.ConditionID] = &Entry{
		Market:      market,
		Tracker:     trk,
		StartedAt:   time.Now(),
		Stage:       types.StagePassive,
		MaxBuyPrice: ComputeMaxBuyPrice(trk),
	}
	m.mu.Unlock()

	m.logger.Warn("market entered liquidation", "condition_id", market.ConditionID)
	return m.persist()
}

// Restore seeds the queue from previously-reconstructed entries (the
// orchestrator loads each entry's tracker and market descriptor from disk
// before calling this, since that requires the exchange balance read this
// package intentionally has no opinion about).
func (m *Manager) Restore(entries []Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entries {
		e := entries[i]
		m.entries[e.Market.ConditionID] = &e
	}
}

// Entries returns a snapshot of condition_ids currently queued, so the
// orchestrator can exclude them from discovery.
func (m *Manager) Entries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Run ticks every 30s, managing every queued market. Blocks until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(managementInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.manageOnce(ctx)
		}
	}
}

func (m *Manager) manageOnce(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.Unlock()

	for _, e := range snapshot {
		if err := m.processEntry(ctx, e); err != nil {
			m.logger.Error("liquidation tick failed", "condition_id", e.Market.ConditionID, "error", err)
		}
	}
}

func (m *Manager) processEntry(ctx context.Context, e *Entry) error {
	snap := e.Tracker.Snapshot()
	net := snap.NetExposure()

	if math.Abs(net) < exitExposureFloor {
		return m.dequeue(ctx, e)
	}

	var side types.Side = types.SELL
	var tokenID string
	var floor float64
	if net > 0 {
		tokenID = e.Market.YesTokenID
		if avg, ok := e.Tracker.AvgYesCost(); ok {
			floor = avg
		}
	} else {
		tokenID = e.Market.NoTokenID
		if avg, ok := e.Tracker.AvgNoCost(); ok {
			floor = avg
		}
	}
	size := math.Abs(net)

	mid, err := m.fetchMidpoint(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("fetch midpoint: %w", err)
	}

	tick := math.Pow(10, -float64(e.Market.TickSize.Decimals()))
	target := math.Max(mid, floor)
	sellPrice := roundToTick(clamp(target, tick, 1-tick), e.Market.TickSize.Decimals())

	needsRequote := e.ActiveOrderID == "" || math.Abs(sellPrice-e.LastQuotePrice) > requoteThreshold
	if !needsRequote {
		return nil
	}

	if e.ActiveOrderID != "" {
		gone := m.cancelAndVerify(ctx, e.Market.ConditionID, e.ActiveOrderID)
		if !gone {
			m.logger.Warn("liquidation order still open after cancel, skipping requote this tick", "condition_id", e.Market.ConditionID)
			return nil
		}
		e.ActiveOrderID = ""
	}

	results, err := m.exchange.PostOrders(ctx, []types.UserOrder{{
		TokenID:   tokenID,
		Price:     sellPrice,
		Size:      size,
		Side:      side,
		OrderType: types.OrderTypeGTC,
		TickSize:  e.Market.TickSize,
	}}, e.Market.NegRisk)
	if err != nil {
		return fmt.Errorf("post liquidation order: %w", err)
	}
	if len(results) == 0 || !results[0].Success || results[0].OrderID == "" {
		return fmt.Errorf("liquidation order rejected: %s", results[0].ErrorMsg)
	}

	e.ActiveOrderID = results[0].OrderID
	e.LastQuotePrice = sellPrice
	m.logger.Info("liquidation quote placed", "condition_id", e.Market.ConditionID, "token_id", tokenID, "price", sellPrice, "size", size)
	return nil
}

func (m *Manager) dequeue(ctx context.Context, e *Entry) error {
	if e.ActiveOrderID != "" {
		m.cancelAndVerify(ctx, e.Market.ConditionID, e.ActiveOrderID)
	}

	m.mu.Lock()
	delete(m.entries, e.Market.ConditionID)
	m.mu.Unlock()

	m.logger.Info("market exited liquidation", "condition_id", e.Market.ConditionID)
	return m.persist()
}

func (m *Manager) cancelAndVerify(ctx context.Context, conditionID, orderID string) bool {
	if _, err := m.exchange.CancelOrders(ctx, []string{orderID}); err != nil {
		m.logger.Warn("cancel liquidation order failed, verifying via open orders", "order_id", orderID, "error", err)
	}

	open, err := m.exchange.GetOpenOrders(ctx, conditionID)
	if err != nil {
		m.logger.Error("verify cancel failed", "order_id", orderID, "error", err)
		return false
	}
	for _, o := range open {
		if o.ID == orderID {
			return false
		}
	}
	return true
}

func (m *Manager) fetchMidpoint(ctx context.Context, tokenID string) (float64, error) {
	book, err := m.exchange.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return 0, fmt.Errorf("empty book")
	}
	bid, err1 := strconv.ParseFloat(book.Bids[0].Price, 64)
	ask, err2 := strconv.ParseFloat(book.Asks[0].Price, 64)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("parse book prices")
	}
	return (bid + ask) / 2, nil
}

// Shutdown cancels every live liquidation order best-effort, logging each
// individual failure rather than aborting the sweep.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, e)
	}
	m.mu.Unlock()

	for _, e := range snapshot {
		if e.ActiveOrderID == "" {
			continue
		}
		if _, err := m.exchange.CancelOrders(ctx, []string{e.ActiveOrderID}); err != nil {
			m.logger.Error("shutdown: cancel liquidation order failed", "condition_id", e.Market.ConditionID, "error", err)
		}
	}
}

func (m *Manager) persist() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	entries := make([]store.LiquidationQueueEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, store.LiquidationQueueEntry{
			ConditionID: e.Market.ConditionID,
			StartedAt:   e.StartedAt,
			Stage:       e.Stage,
		})
	}
	m.mu.Unlock()

	return m.store.SaveLiquidationQueue(entries)
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

func roundToTick(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
