// Package orchestrator is the top-level supervisor: it discovers the most
// profitable rewarded market, runs a market-making session on it, re-evaluates
// periodically and arms a deferred switch when a materially better market
// appears, and moves any market that busts its exposure limit into the
// liquidation manager while a new one is made.
//
// It generalizes the classic own-the-goroutine-lifecycle, dispatch-WS-events-
// by-looking-up-the-active-market, shut-down-by-cancelling-a-context-and-
// sweeping-orders engine shape down to a single active market at a time,
// since one capital budget only ever trades one market at once.
package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"rewards-mm/internal/apperrors"
	"rewards-mm/internal/config"
	"rewards-mm/internal/exchange"
	"rewards-mm/internal/liquidation"
	"rewards-mm/internal/marketmaker"
	"rewards-mm/internal/metadata"
	"rewards-mm/internal/rewardmath"
	"rewards-mm/internal/settlement"
	"rewards-mm/internal/store"
	"rewards-mm/internal/tracker"
	"rewards-mm/internal/wsfeed"
	"rewards-mm/pkg/types"
)

const (
	liquidationManageInterval = 30 * time.Second
	errorBackoff              = 10 * time.Second
	defaultWarnThreshold      = 0.8
	defaultRebalanceThreshold = 0.01
	defaultFallbackPoll       = 5 * time.Second
	defaultMinMergeAmount     = 1.0
)

// pendingSwitch is the orchestrator-armed intent to replace the active
// market, executed only once the running Maker reports net_exposure == 0.
type pendingSwitch struct {
	target     types.RewardedMarket
	estimate   rewardmath.Estimate
	negRisk    bool
	detectedAt time.Time
}

// Orchestrator owns the run's single active market-making session, the
// liquidation queue, and the re-evaluation/liquidation timers.
type Orchestrator struct {
	cfg        config.Config
	exchange   *exchange.Client
	metadata   *metadata.Client
	settlement settlement.Client
	store      *store.Store
	liquidator *liquidation.Manager
	logger     *slog.Logger

	mktFeed *wsfeed.Feed
	usrFeed *wsfeed.Feed

	switchMu sync.Mutex
	pending  *pendingSwitch

	curMu           sync.Mutex
	currentMarket   types.RewardedMarket
	currentEstimate rewardmath.Estimate
	haveCurrent     bool

	historyMu    sync.Mutex
	priceHistory map[string][]pricePoint

	switchCount    int
	marketsVisited map[string]bool
	startTime      time.Time
}

// New wires an Orchestrator from its already-constructed collaborators. The
// caller (cmd/orchestrator/main.go) owns authenticating the exchange client
// and starting the WS feeds' Run loops.
func New(cfg config.Config, ex *exchange.Client, md *metadata.Client, settle settlement.Client, st *store.Store, mktFeed, usrFeed *wsfeed.Feed, logger *slog.Logger) *Orchestrator {
	logger = logger.With("component", "orchestrator")
	return &Orchestrator{
		cfg:            cfg,
		exchange:       ex,
		metadata:       md,
		settlement:     settle,
		store:          st,
		liquidator:     liquidation.NewManager(ex, st, logger),
		logger:         logger,
		mktFeed:        mktFeed,
		usrFeed:        usrFeed,
		marketsVisited: make(map[string]bool),
		priceHistory:   make(map[string][]pricePoint),
		startTime:      time.Now(),
	}
}

// Startup runs the collateral check, stray position detection and recovery,
// and liquidation-queue restoration that must happen before the main loop
// starts. Returns (true, nil) if CheckPositionsOnly short-circuits the
// caller into printing a report and exiting without trading.
func (o *Orchestrator) Startup(ctx context.Context) (checkOnlyExit bool, err error) {
	bal, err := o.exchange.GetBalance(ctx, "")
	if err != nil {
		return false, fmt.Errorf("check collateral: %w", err)
	}
	if bal.Balance < 2*o.cfg.Orchestrator.OrderSizeUSD {
		return false, fmt.Errorf("%w: have %.2f, need >= %.2f", apperrors.ErrInsufficientCollateral, bal.Balance, 2*o.cfg.Orchestrator.OrderSizeUSD)
	}

	ledgerIDs, err := o.store.ListFillLedgerConditionIDs()
	if err != nil {
		return false, fmt.Errorf("scan persisted positions: %w", err)
	}

	queueDoc, err := o.store.LoadLiquidationQueue()
	if err != nil {
		return false, fmt.Errorf("load liquidation queue: %w", err)
	}
	alreadyQueued := make(map[string]store.LiquidationQueueEntry, len(queueDoc.Markets))
	for _, e := range queueDoc.Markets {
		alreadyQueued[e.ConditionID] = e
	}

	var liquidationIDs, strayIDs []string
	for _, id := range ledgerIDs {
		if _, ok := alreadyQueued[id]; ok {
			liquidationIDs = append(liquidationIDs, id)
		} else {
			strayIDs = append(strayIDs, id)
		}
	}

	if o.cfg.Orchestrator.CheckPositionsOnly {
		o.logger.Info("position check",
			"queued_for_liquidation", liquidationIDs,
			"stray_positions", strayIDs,
		)
		return true, nil
	}

	if err := o.restoreLiquidations(ctx, liquidationIDs, alreadyQueued); err != nil {
		return false, fmt.Errorf("restore liquidations: %w", err)
	}

	if err := o.handleStrayPositions(ctx, strayIDs); err != nil {
		return false, fmt.Errorf("handle stray positions: %w", err)
	}

	return false, nil
}

// restoreLiquidations rebuilds each queued market's tracker from its
// persisted fill ledger and the exchange's authoritative balances, then
// hands the reconstructed entries to the liquidation manager.
func (o *Orchestrator) restoreLiquidations(ctx context.Context, ids []string, known map[string]store.LiquidationQueueEntry) error {
	entries := make([]liquidation.Entry, 0, len(ids))
	for _, id := range ids {
		market, trk, err := o.loadMarketAndTracker(ctx, id)
		if err != nil {
			o.logger.Error("failed to restore liquidation entry, skipping", "condition_id", id, "error", err)
			continue
		}
		meta := known[id]
		entries = append(entries, liquidation.Entry{
			Market:      *market,
			Tracker:     trk,
			StartedAt:   meta.StartedAt,
			Stage:       meta.Stage,
			MaxBuyPrice: liquidation.ComputeMaxBuyPrice(trk),
		})
		o.logger.Info("restored liquidation entry", "condition_id", id)
	}
	o.liquidator.Restore(entries)
	return nil
}

// handleStrayPositions applies the configured recovery policy to every
// market with persisted inventory but no liquidations.json entry.
func (o *Orchestrator) handleStrayPositions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	switch o.cfg.Orchestrator.StrayPositionPolicy {
	case config.PolicyIgnore:
		o.logger.Warn("ignoring stray positions by configuration", "condition_ids", ids)
		if !confirmTyped(fmt.Sprintf("Type IGNORE to leave %d stray position(s) untouched: ", len(ids)), "IGNORE") {
			return fmt.Errorf("stray position handling aborted: confirmation not given")
		}
		return nil

	case config.PolicyAutoResume:
		for _, id := range ids {
			if err := o.enqueueStray(ctx, id); err != nil {
				o.logger.Error("auto-resume: failed to enqueue stray position", "condition_id", id, "error", err)
			}
		}
		return nil

	default: // config.PolicyPrompt
		fmt.Printf("Found %d stray position(s) with no liquidation record: %v\n", len(ids), ids)
		if !confirmTyped("Type RESUME to enqueue them for liquidation, anything else to abort: ", "RESUME") {
			return fmt.Errorf("stray position handling aborted by operator")
		}
		for _, id := range ids {
			if err := o.enqueueStray(ctx, id); err != nil {
				o.logger.Error("failed to enqueue stray position", "condition_id", id, "error", err)
			}
		}
		return nil
	}
}

func (o *Orchestrator) enqueueStray(ctx context.Context, conditionID string) error {
	market, trk, err := o.loadMarketAndTracker(ctx, conditionID)
	if err != nil {
		return err
	}
	return o.liquidator.Enqueue(*market, trk)
}

// confirmTyped reads one line from stdin and reports whether it matches want
// exactly (after trimming whitespace). Used for the explicit confirmation
// required before a startup action that resumes or ignores inventory the
// operator hasn't reviewed.
func confirmTyped(prompt, want string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == want
}

// loadMarketAndTracker reconstructs a market descriptor and a resumed
// tracker for conditionID from its persisted fill ledger and the exchange's
// current balances. The market descriptor is enriched from the live rewards
// feed when the market is still listed there; otherwise it falls back to
// the bare ledger fields, which is all a liquidator needs (it never signs a
// reward-banded quote).
func (o *Orchestrator) loadMarketAndTracker(ctx context.Context, conditionID string) (*types.Market, *tracker.Tracker, error) {
	doc, err := o.store.LoadFillLedger(conditionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load fill ledger: %w", err)
	}
	if doc == nil {
		return nil, nil, fmt.Errorf("no persisted fill ledger for %s", conditionID)
	}

	yesBal, err := o.exchange.GetBalance(ctx, doc.YesTokenID)
	if err != nil {
		return nil, nil, fmt.Errorf("get yes balance: %w", err)
	}
	noBal, err := o.exchange.GetBalance(ctx, doc.NoTokenID)
	if err != nil {
		return nil, nil, fmt.Errorf("get no balance: %w", err)
	}

	market := types.Market{
		ConditionID:  doc.ConditionID,
		YesTokenID:   doc.YesTokenID,
		NoTokenID:    doc.NoTokenID,
		TickSize:     types.Tick001,
		MinOrderSize: 1,
	}
	if rewarded, ok, err := o.findRewardedMarket(ctx, conditionID); err == nil && ok {
		negRisk, err := o.metadata.RefreshNegRisk(ctx, rewarded.Slug)
		if err != nil {
			o.logger.Warn("failed to refresh neg_risk, defaulting to feed value", "condition_id", conditionID, "error", err)
			negRisk = rewarded.NegRisk
		}
		market = marketFromRewarded(rewarded, negRisk)
	} else {
		o.logger.Warn("market no longer listed on rewards feed, liquidating with unrefreshed neg_risk", "condition_id", conditionID)
	}

	state := doc.ToTrackerState()
	state.Limits = o.trackerLimits()
	trk, warn := tracker.InitializeResumed(state, yesBal.Balance, noBal.Balance)
	if warn != nil {
		o.logger.Warn("reconciliation drift on resume", "detail", warn.String())
	}
	return &market, trk, nil
}

func (o *Orchestrator) findRewardedMarket(ctx context.Context, conditionID string) (types.RewardedMarket, bool, error) {
	markets, err := o.metadata.FetchRewardedMarkets(ctx)
	if err != nil {
		return types.RewardedMarket{}, false, err
	}
	for _, m := range markets {
		if m.ConditionID == conditionID {
			return m, true, nil
		}
	}
	return types.RewardedMarket{}, false, nil
}

func (o *Orchestrator) trackerLimits() tracker.Limits {
	return tracker.Limits{
		MaxNetExposure: o.cfg.Orchestrator.LiquidityUSD,
		WarnThreshold:  defaultWarnThreshold,
	}
}

func marketFromRewarded(rm types.RewardedMarket, negRisk bool) types.Market {
	return types.Market{
		ConditionID:           rm.ConditionID,
		Slug:                  rm.Slug,
		Question:              rm.Question,
		YesTokenID:            rm.YesTokenID,
		NoTokenID:             rm.NoTokenID,
		TickSize:              rm.TickSize,
		MinOrderSize:          rm.RewardsMinSize,
		NegRisk:               negRisk,
		MaxSpreadCents:        rm.RewardsMaxSpread,
		RewardRatePerDay:      rm.RewardRatePerDay,
		MarketCompetitiveness: rm.MarketCompetitiveness,
		Midpoint:              rm.YesPrice,
	}
}

// discover fetches the rewards feed, samples every listed market's price for
// the volatility filter, excludes any condition_id currently in the
// liquidation queue or above the configured realized-volatility ceiling, and
// ranks the remainder against the configured liquidity budget. Returns
// apperrors.ErrNoEligibleMarkets if nothing is compatible.
func (o *Orchestrator) discover(ctx context.Context) (types.RewardedMarket, rewardmath.Estimate, error) {
	all, err := o.metadata.FetchRewardedMarkets(ctx)
	if err != nil {
		return types.RewardedMarket{}, rewardmath.Estimate{}, fmt.Errorf("fetch rewarded markets: %w", err)
	}
	o.recordPrices(all)

	excluded := make(map[string]bool)
	for _, id := range o.liquidator.Entries() {
		excluded[id] = true
	}

	candidates := make([]types.RewardedMarket, 0, len(all))
	for _, m := range all {
		if !excluded[m.ConditionID] {
			candidates = append(candidates, m)
		}
	}
	candidates = o.filterByVolatility(candidates)

	ranked := rewardmath.Rank(candidates, o.cfg.Orchestrator.LiquidityUSD, rewardmath.DefaultConfig())
	if len(ranked) == 0 {
		return types.RewardedMarket{}, rewardmath.Estimate{}, apperrors.ErrNoEligibleMarkets
	}
	return ranked[0].Market, ranked[0].Estimate, nil
}

// pricePoint is one observed midpoint sample, kept for the realized-
// volatility filter.
type pricePoint struct {
	at    time.Time
	price float64
}

// recordPrices appends the current rewards-feed price for every listed
// market to its rolling history and prunes samples older than
// VolatilityLookback. Called once per discover(), so the sampling cadence
// is the re-evaluation interval, not a dedicated poll loop.
func (o *Orchestrator) recordPrices(markets []types.RewardedMarket) {
	lookback := o.cfg.Orchestrator.VolatilityLookback
	if lookback <= 0 {
		lookback = config.DefaultVolatilityLookback
	}
	now := time.Now()
	cutoff := now.Add(-lookback)

	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	if o.priceHistory == nil {
		o.priceHistory = make(map[string][]pricePoint)
	}
	for _, m := range markets {
		hist := append(o.priceHistory[m.ConditionID], pricePoint{at: now, price: m.YesPrice})
		o.priceHistory[m.ConditionID] = pruneOlderThan(hist, cutoff)
	}
}

// pruneOlderThan drops every sample at or before cutoff, preserving order.
func pruneOlderThan(history []pricePoint, cutoff time.Time) []pricePoint {
	kept := history[:0:0]
	for _, p := range history {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	return kept
}

// realizedVolatility is the standard deviation of simple period-over-period
// returns across history. Reports ok=false with fewer than two samples,
// since a single price has no realized volatility yet.
func realizedVolatility(history []pricePoint) (vol float64, ok bool) {
	if len(history) < 2 {
		return 0, false
	}

	returns := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1].price
		if prev == 0 {
			continue
		}
		returns = append(returns, (history[i].price-prev)/prev)
	}
	if len(returns) == 0 {
		return 0, false
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance), true
}

// filterByVolatility drops candidates whose realized volatility exceeds
// MaxVolatility. A candidate with fewer than two recorded samples, or a
// disabled/unset filter (NoVolatilityFilter, or MaxVolatility <= 0, meaning
// no cap was configured), always passes through unfiltered.
func (o *Orchestrator) filterByVolatility(candidates []types.RewardedMarket) []types.RewardedMarket {
	if o.cfg.Orchestrator.NoVolatilityFilter || o.cfg.Orchestrator.MaxVolatility <= 0 {
		return candidates
	}

	o.historyMu.Lock()
	defer o.historyMu.Unlock()

	kept := make([]types.RewardedMarket, 0, len(candidates))
	for _, m := range candidates {
		vol, ok := realizedVolatility(o.priceHistory[m.ConditionID])
		if ok && vol > o.cfg.Orchestrator.MaxVolatility {
			o.logger.Info("excluding candidate above volatility ceiling", "condition_id", m.ConditionID, "realized_volatility", vol, "max_volatility", o.cfg.Orchestrator.MaxVolatility)
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// setCurrent records which market is presently being made and its discovery-
// time earnings estimate, so a concurrently-running reEvaluateOnce can look
// up its reward-band parameters and fall back to this estimate when no
// orders are resting yet.
func (o *Orchestrator) setCurrent(market types.RewardedMarket, estimate rewardmath.Estimate) {
	o.curMu.Lock()
	defer o.curMu.Unlock()
	o.currentMarket = market
	o.currentEstimate = estimate
	o.haveCurrent = true
}

func (o *Orchestrator) getCurrent() (types.RewardedMarket, rewardmath.Estimate, bool) {
	o.curMu.Lock()
	defer o.curMu.Unlock()
	return o.currentMarket, o.currentEstimate, o.haveCurrent
}

// Run is the main loop: discover, market-make, react to the exit reason,
// repeat until a Shutdown exit or ctx cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.cfg.Orchestrator.SwitchingEnabled {
		go o.reEvaluateLoop(ctx)
	}
	go o.liquidator.Run(ctx)

	rm, estimate, err := o.discover(ctx)
	if err != nil {
		return fmt.Errorf("initial discovery: %w", err)
	}
	negRisk, err := o.metadata.RefreshNegRisk(ctx, rm.Slug)
	if err != nil {
		o.logger.Warn("failed to refresh neg_risk for initial market, using feed value", "error", err)
		negRisk = rm.NegRisk
	}
	o.setCurrent(rm, estimate)

	for {
		select {
		case <-ctx.Done():
			o.shutdown(context.Background())
			return nil
		default:
		}

		exit, trk, market, err := o.runMarket(ctx, rm, negRisk)
		if err != nil {
			o.logger.Error("market session failed to start, backing off", "condition_id", rm.ConditionID, "error", err)
			time.Sleep(errorBackoff)
			continue
		}
		o.marketsVisited[market.ConditionID] = true

		switch exit.Reason {
		case types.ExitNeutral:
			o.switchMu.Lock()
			target := o.pending
			o.pending = nil
			o.switchMu.Unlock()
			if target == nil || !o.cfg.Orchestrator.SwitchingEnabled {
				// Shouldn't happen (Maker only exits Neutral when checkSwitch
				// approved), but fall back to rediscovering rather than
				// spinning on a stale market.
				rm, estimate, negRisk, err = o.rediscover(ctx)
				if err != nil {
					o.logger.Error("rediscovery after neutral exit failed, backing off", "error", err)
					time.Sleep(errorBackoff)
				} else {
					o.setCurrent(rm, estimate)
				}
				continue
			}
			o.switchCount++
			o.logger.Info("switching markets", "from", market.ConditionID, "to", target.target.ConditionID, "switch_count", o.switchCount)
			rm, negRisk = target.target, target.negRisk
			o.setCurrent(rm, target.estimate)

		case types.ExitPositionLimit:
			maxBuy := liquidation.ComputeMaxBuyPrice(trk)
			o.logger.Warn("position limit hit, moving to liquidation", "condition_id", market.ConditionID, "max_buy_price", maxBuy)
			if err := o.liquidator.Enqueue(*market, trk); err != nil {
				o.logger.Error("failed to enqueue liquidation", "condition_id", market.ConditionID, "error", err)
			}
			rm, estimate, negRisk, err = o.rediscover(ctx)
			if err != nil {
				o.logger.Error("rediscovery after liquidation enqueue failed, backing off", "error", err)
				time.Sleep(errorBackoff)
			} else {
				o.setCurrent(rm, estimate)
			}

		case types.ExitShutdown:
			o.shutdown(context.Background())
			return nil

		case types.ExitError:
			o.logger.Error("market session exited with error, backing off", "condition_id", market.ConditionID, "error", exit.Err)
			time.Sleep(errorBackoff)

		case types.ExitTimeout:
			o.logger.Warn("market session timed out, restarting", "condition_id", market.ConditionID)
		}
	}
}

func (o *Orchestrator) rediscover(ctx context.Context) (types.RewardedMarket, rewardmath.Estimate, bool, error) {
	rm, estimate, err := o.discover(ctx)
	if err != nil {
		return types.RewardedMarket{}, rewardmath.Estimate{}, false, err
	}
	negRisk, err := o.metadata.RefreshNegRisk(ctx, rm.Slug)
	if err != nil {
		o.logger.Warn("failed to refresh neg_risk, using feed value", "error", err)
		negRisk = rm.NegRisk
	}
	return rm, estimate, negRisk, nil
}

// runMarket subscribes both feeds to one market, builds or resumes its
// tracker, runs a Maker session to completion, and unsubscribes.
func (o *Orchestrator) runMarket(ctx context.Context, rm types.RewardedMarket, negRisk bool) (marketmaker.ExitResult, *tracker.Tracker, *types.Market, error) {
	market := marketFromRewarded(rm, negRisk)
	if !market.Valid() {
		return marketmaker.ExitResult{}, nil, nil, fmt.Errorf("discovered market %s fails validity checks", market.ConditionID)
	}

	yesBal, err := o.exchange.GetBalance(ctx, market.YesTokenID)
	if err != nil {
		return marketmaker.ExitResult{}, nil, nil, fmt.Errorf("get yes balance: %w", err)
	}
	noBal, err := o.exchange.GetBalance(ctx, market.NoTokenID)
	if err != nil {
		return marketmaker.ExitResult{}, nil, nil, fmt.Errorf("get no balance: %w", err)
	}

	trk, err := o.loadOrInitTracker(market, yesBal.Balance, noBal.Balance)
	if err != nil {
		return marketmaker.ExitResult{}, nil, nil, err
	}

	if err := o.mktFeed.Subscribe([]string{market.YesTokenID, market.NoTokenID}); err != nil {
		return marketmaker.ExitResult{}, nil, nil, fmt.Errorf("subscribe market feed: %w", err)
	}
	if err := o.usrFeed.Subscribe([]string{market.ConditionID}); err != nil {
		return marketmaker.ExitResult{}, nil, nil, fmt.Errorf("subscribe user feed: %w", err)
	}
	defer func() {
		_ = o.mktFeed.Unsubscribe([]string{market.YesTokenID, market.NoTokenID})
		_ = o.usrFeed.Unsubscribe([]string{market.ConditionID})
	}()

	mmCfg := marketmaker.Config{
		SpreadFraction:       o.cfg.Orchestrator.SpreadFraction,
		OrderSize:            o.shareSize(market),
		RebalanceThreshold:   defaultRebalanceThreshold,
		DebounceDelay:        marketmaker.DefaultDebounceDelay,
		FallbackPollInterval: defaultFallbackPoll,
		SwitchCheckInterval:  marketmaker.DefaultSwitchCheckInterval,
		MergeEnabled:         true,
		MinMergeAmount:       defaultMinMergeAmount,
	}

	maker := marketmaker.New(market, mmCfg, trk, o.exchange, o.settlement, o.store, o.checkSwitch, o.logger)
	exit := maker.Run(ctx, o.mktFeed.MidpointUpdates(), o.mktFeed.Connected(), o.usrFeed.TradeEvents())
	return exit, trk, &market, nil
}

// shareSize converts the configured USD order size into a share count at
// the market's current midpoint, floored so reward eligibility (min_size)
// isn't undercut by rounding up instead.
func (o *Orchestrator) shareSize(market types.Market) float64 {
	mid := market.Midpoint
	if mid <= 0 || mid >= 1 {
		mid = 0.5
	}
	return o.cfg.Orchestrator.OrderSizeUSD / mid
}

func (o *Orchestrator) loadOrInitTracker(market types.Market, actualYes, actualNo float64) (*tracker.Tracker, error) {
	limits := o.trackerLimits()

	doc, err := o.store.LoadFillLedger(market.ConditionID)
	if err != nil {
		return nil, fmt.Errorf("load fill ledger: %w", err)
	}
	if doc == nil {
		return tracker.InitializeFresh(market.ConditionID, market.YesTokenID, market.NoTokenID, actualYes, actualNo, limits), nil
	}

	state := doc.ToTrackerState()
	state.Limits = limits
	trk, warn := tracker.InitializeResumed(state, actualYes, actualNo)
	if warn != nil {
		o.logger.Warn("reconciliation drift on resume", "detail", warn.String())
	}
	return trk, nil
}

// checkSwitch is the SwitchChecker handed to every Maker: approve exit only
// when a pending switch is armed and switching is enabled. The Maker itself
// additionally requires net_exposure == 0 before honoring it.
func (o *Orchestrator) checkSwitch() bool {
	if !o.cfg.Orchestrator.SwitchingEnabled {
		return false
	}
	o.switchMu.Lock()
	defer o.switchMu.Unlock()
	return o.pending != nil
}

// reEvaluateLoop periodically compares the current market's estimated
// earnings against the best available candidate and arms or clears a
// pending switch. It has no reference to which market is "current" beyond
// what discover/exclude already filters, so it always compares against the
// single best candidate in the universe minus the liquidation queue — if
// that candidate is the market already being made, nothing changes.
func (o *Orchestrator) reEvaluateLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Orchestrator.ReEvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reEvaluateOnce(ctx)
		}
	}
}

// errNoOpenOrders signals actualEarnings that the current market has no
// resting orders yet (session just started, or between cancel and replace),
// so the caller should fall back to the discovery-time estimate instead of
// scoring an empty book as zero earnings.
var errNoOpenOrders = errors.New("no open orders resting yet")

// reEvaluateOnce arms a pending switch only when the best available
// candidate's daily earnings beat the currently active market's actual,
// currently-realized earnings by at least min_improvement_fraction.
// improvement is 1.0 (treated as infinite) when the current market is
// earning nothing, so any positive candidate always clears the bar.
func (o *Orchestrator) reEvaluateOnce(ctx context.Context) {
	candidate, estimate, err := o.discover(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNoEligibleMarkets) {
			o.clearPending()
			return
		}
		o.logger.Error("re-evaluation discovery failed", "error", err)
		return
	}

	currentMarket, currentEstimate, ok := o.getCurrent()
	if !ok {
		o.clearPending()
		return
	}
	if candidate.ConditionID == currentMarket.ConditionID {
		o.clearPending()
		return
	}

	actual, err := o.actualEarnings(ctx, currentMarket)
	switch {
	case err == nil:
		currentEstimate = actual
	case errors.Is(err, errNoOpenOrders):
		// No resting orders yet: compare against the discovery-time estimate.
	default:
		o.logger.Warn("failed to compute actual earnings for current market, falling back to discovery estimate", "condition_id", currentMarket.ConditionID, "error", err)
	}

	improvement := improvementFraction(currentEstimate, estimate)
	if improvement < o.cfg.Orchestrator.MinImprovementFraction {
		o.clearPending()
		return
	}

	negRisk, err := o.metadata.RefreshNegRisk(ctx, candidate.Slug)
	if err != nil {
		o.logger.Warn("failed to refresh neg_risk for switch candidate, using feed value", "error", err)
		negRisk = candidate.NegRisk
	}

	o.switchMu.Lock()
	o.pending = &pendingSwitch{target: candidate, estimate: estimate, negRisk: negRisk, detectedAt: time.Now()}
	o.switchMu.Unlock()
	o.logger.Info("armed pending switch", "from", currentMarket.ConditionID, "to", candidate.ConditionID, "improvement_fraction", improvement)
}

func (o *Orchestrator) clearPending() {
	o.switchMu.Lock()
	o.pending = nil
	o.switchMu.Unlock()
}

// actualEarnings recomputes a market's currently-realized daily earnings
// estimate from its actual resting orders, rather than the assumed,
// full-band placement EstimateEarnings scores a not-yet-placed candidate
// with. Returns errNoOpenOrders if nothing is resting yet, so the caller can
// fall back to the discovery-time estimate instead of scoring a
// momentarily-empty book as zero.
func (o *Orchestrator) actualEarnings(ctx context.Context, market types.RewardedMarket) (rewardmath.Estimate, error) {
	open, err := o.exchange.GetOpenOrders(ctx, market.ConditionID)
	if err != nil {
		return rewardmath.Estimate{}, fmt.Errorf("get open orders: %w", err)
	}

	live := make([]types.OpenOrder, 0, len(open))
	for _, ord := range open {
		if ord.Status == "live" {
			live = append(live, ord)
		}
	}
	if len(live) == 0 {
		return rewardmath.Estimate{}, errNoOpenOrders
	}

	mid, err := o.currentMidpoint(ctx, market)
	if err != nil {
		return rewardmath.Estimate{}, fmt.Errorf("get current midpoint: %w", err)
	}

	return scoreOpenOrders(market, mid, live), nil
}

// scoreOpenOrders is the pure scoring half of actualEarnings: given a
// market's reward-band parameters, its live midpoint, and its resting
// orders, it buckets each order by side, sizes it by its unfilled
// remainder, and runs the same S/QMin/EarningFraction pipeline
// EstimateEarnings uses for a hypothetical placement — but over orders that
// are actually live on the book.
func scoreOpenOrders(market types.RewardedMarket, mid float64, orders []types.OpenOrder) rewardmath.Estimate {
	var yesLevels, noLevels []rewardmath.OrderLevel
	for _, ord := range orders {
		price, err := strconv.ParseFloat(ord.Price, 64)
		if err != nil {
			continue
		}
		orig, err := strconv.ParseFloat(ord.OriginalSize, 64)
		if err != nil {
			continue
		}
		matched, _ := strconv.ParseFloat(ord.SizeMatched, 64)
		remaining := orig - matched
		if remaining <= 0 {
			continue
		}

		switch ord.AssetID {
		case market.YesTokenID:
			yesLevels = append(yesLevels, rewardmath.OrderLevel{DistanceCents: math.Abs(mid-price) * 100, Size: remaining})
		case market.NoTokenID:
			noLevels = append(noLevels, rewardmath.OrderLevel{DistanceCents: math.Abs((1-mid)-price) * 100, Size: remaining})
		}
	}

	cfg := rewardmath.DefaultConfig()
	qOne := rewardmath.SumScores(yesLevels, market.RewardsMaxSpread, market.RewardsMinSize)
	qTwo := rewardmath.SumScores(noLevels, market.RewardsMaxSpread, market.RewardsMinSize)
	ourQ := rewardmath.QMin(qOne, qTwo, mid, cfg)
	fraction := rewardmath.EarningFraction(ourQ, market.MarketCompetitiveness)

	return rewardmath.Estimate{
		Compatible:       true,
		DailyEarningsUSD: rewardmath.DailyEarningsUSD(fraction, market.RewardRatePerDay),
	}
}

// currentMidpoint fetches the live best-bid/best-ask midpoint off the YES
// book, falling back to the market's last-known feed midpoint if the book
// is empty or unparsable.
func (o *Orchestrator) currentMidpoint(ctx context.Context, market types.RewardedMarket) (float64, error) {
	book, err := o.exchange.GetOrderBook(ctx, market.YesTokenID)
	if err != nil {
		return 0, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return market.YesPrice, nil
	}
	bid, err1 := strconv.ParseFloat(book.Bids[0].Price, 64)
	ask, err2 := strconv.ParseFloat(book.Asks[0].Price, 64)
	if err1 != nil || err2 != nil {
		return market.YesPrice, nil
	}
	return (bid + ask) / 2, nil
}

// improvementFraction is (candidate - current) / current, except when
// current earns nothing: then any positive candidate is treated as an
// infinite improvement (reported as 1.0, comfortably above any fractional
// threshold) and a candidate earning nothing too is zero improvement.
func improvementFraction(current, candidate rewardmath.Estimate) float64 {
	if current.DailyEarningsUSD > 0 {
		return (candidate.DailyEarningsUSD - current.DailyEarningsUSD) / current.DailyEarningsUSD
	}
	if candidate.DailyEarningsUSD > 0 {
		return 1.0
	}
	return 0
}

// shutdown stops the liquidation manager's outstanding orders and persists
// final state. Timers are stopped by ctx cancellation in their own
// goroutines; this only needs to sweep orders and write the queue.
func (o *Orchestrator) shutdown(ctx context.Context) {
	o.logger.Info("shutting down orchestrator",
		"switch_count", o.switchCount,
		"markets_visited", len(o.marketsVisited),
		"uptime", time.Since(o.startTime).Round(time.Second),
	)
	o.liquidator.Shutdown(ctx)
}
