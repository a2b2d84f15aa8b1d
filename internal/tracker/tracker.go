// Package tracker implements the position ledger for one market: holdings,
// running cost-basis economics, realized/unrealized P&L, exposure gating,
// and reconciliation against the exchange's authoritative balances.
//
// It builds on a weighted-average-cost, RWMutex-guarded, OnFill-dispatch-by-
// token-id design, adding fill dedup, initial-cost-basis bootstrapping for
// pre-existing inventory, and resume-time reconciliation.
package tracker

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"rewards-mm/internal/apperrors"
	"rewards-mm/pkg/types"
)

const reconciliationTolerance = 1e-3

// Economics holds the running, monotonic (except RealizedPnL) sums used to
// derive average cost and realized P&L.
type Economics struct {
	YesBought    float64 `json:"yes_bought"`
	YesCost      float64 `json:"yes_cost"`
	YesSold      float64 `json:"yes_sold"`
	YesProceeds  float64 `json:"yes_proceeds"`
	NoBought     float64 `json:"no_bought"`
	NoCost       float64 `json:"no_cost"`
	NoSold       float64 `json:"no_sold"`
	NoProceeds   float64 `json:"no_proceeds"`
	RealizedPnL  float64 `json:"realized_pnl"`
}

// CostBasis is a user-supplied average cost for pre-existing inventory the
// tracker did not itself accumulate fills for.
type CostBasis struct {
	YesAvgCost float64 `json:"yes_avg_cost"`
	NoAvgCost  float64 `json:"no_avg_cost"`
}

// InitialPosition is the balance snapshot a tracker was bootstrapped from,
// used to reconstruct the implied current balance from replayed fills.
type InitialPosition struct {
	Yes       float64   `json:"yes"`
	No        float64   `json:"no"`
	Timestamp time.Time `json:"timestamp"`
}

// Limits gates further accumulation on either side of a mirrored position.
type Limits struct {
	MaxNetExposure float64 `json:"max_net_exposure"`
	WarnThreshold  float64 `json:"warn_threshold"` // fraction in (0,1)
}

// State is the full durable ledger for one condition_id. It is the shape
// persisted to ./data/fills-<condition_id>.json by the store package.
type State struct {
	ConditionID       string          `json:"condition_id"`
	YesTokenID        string          `json:"yes_token_id"`
	NoTokenID         string          `json:"no_token_id"`
	YesTokens         float64         `json:"yes_tokens"`
	NoTokens          float64         `json:"no_tokens"`
	Economics         Economics       `json:"economics"`
	InitialCostBasis  *CostBasis      `json:"initial_cost_basis,omitempty"`
	InitialPosition   InitialPosition `json:"initial_position"`
	ProcessedFillIDs  map[string]bool `json:"-"` // dedup set, not persisted verbatim (see Fills)
	Fills             []types.Fill    `json:"fills"`
	Limits            Limits          `json:"limits"`
	NeedsCostBasis    bool            `json:"needs_cost_basis,omitempty"`
}

// NetExposure is yes_tokens - no_tokens: positive means net long YES.
func (s State) NetExposure() float64 {
	return s.YesTokens - s.NoTokens
}

// NeutralPosition is the portion of holdings mergeable back to collateral.
func (s State) NeutralPosition() float64 {
	return math.Min(s.YesTokens, s.NoTokens)
}

// LimitStatus summarizes exposure-limit gating for dashboards and the
// orchestrator's switch logic.
type LimitStatus struct {
	UtilizationPct float64
	IsWarning      bool
	IsLimitReached bool
	BlockedSide    types.BlockedSide
}

// ReconciliationWarning is emitted when a resumed tracker's replayed state
// disagrees with the exchange's actual balance by more than tolerance.
type ReconciliationWarning struct {
	ConditionID   string
	YesDiscrepancy float64
	NoDiscrepancy  float64
}

func (w ReconciliationWarning) String() string {
	return fmt.Sprintf("reconciliation drift on %s: yes=%+.6f no=%+.6f", w.ConditionID, w.YesDiscrepancy, w.NoDiscrepancy)
}

// Tracker wraps a State with the mutex that serializes fill application and
// queries.
type Tracker struct {
	mu    sync.RWMutex
	state State
}

// InitializeFresh bootstraps a tracker with no prior persisted state. The
// actual exchange balances become the initial position; economics start
// empty. needs_cost_basis flags that the operator should supply
// initial_cost_basis for non-trivial pre-existing inventory, since without
// it P&L on that inventory can only be reported as partial.
func InitializeFresh(conditionID, yesTokenID, noTokenID string, actualYes, actualNo float64, limits Limits) *Tracker {
	needsCostBasis := actualYes > reconciliationTolerance || actualNo > reconciliationTolerance
	return &Tracker{
		state: State{
			ConditionID: conditionID,
			YesTokenID:  yesTokenID,
			NoTokenID:   noTokenID,
			YesTokens:   actualYes,
			NoTokens:    actualNo,
			InitialPosition: InitialPosition{
				Yes:       actualYes,
				No:        actualNo,
				Timestamp: time.Now(),
			},
			ProcessedFillIDs: make(map[string]bool),
			Limits:           limits,
			NeedsCostBasis:   needsCostBasis,
		},
	}
}

// InitializeResumed replays a persisted ledger's fills against its
// persisted initial_position, compares the implied balance against the
// authoritative actual balance, and truths the actual balance if they
// disagree by more than the reconciliation tolerance — adjusting
// initial_position by the discrepancy while preserving fill history.
func InitializeResumed(persisted State, actualYes, actualNo float64) (*Tracker, *ReconciliationWarning) {
	impliedYes := persisted.InitialPosition.Yes
	impliedNo := persisted.InitialPosition.No

	processed := make(map[string]bool, len(persisted.Fills))
	for _, f := range persisted.Fills {
		if f.Status != types.FillConfirmed {
			continue
		}
		processed[f.ID] = true
		switch {
		case f.TokenID == persisted.YesTokenID && f.Side == types.BUY:
			impliedYes += f.Size
		case f.TokenID == persisted.YesTokenID && f.Side == types.SELL:
			impliedYes -= f.Size
		case f.TokenID == persisted.NoTokenID && f.Side == types.BUY:
			impliedNo += f.Size
		case f.TokenID == persisted.NoTokenID && f.Side == types.SELL:
			impliedNo -= f.Size
		}
	}

	yesDrift := actualYes - impliedYes
	noDrift := actualNo - impliedNo

	var warning *ReconciliationWarning
	if math.Abs(yesDrift) > reconciliationTolerance || math.Abs(noDrift) > reconciliationTolerance {
		warning = &ReconciliationWarning{
			ConditionID:    persisted.ConditionID,
			YesDiscrepancy: yesDrift,
			NoDiscrepancy:  noDrift,
		}
		// Truth the actual balance: shift initial_position by the observed
		// drift so yes_tokens/no_tokens below reflect reality, while the
		// fill history that produced the (now corrected) delta is untouched.
		persisted.InitialPosition.Yes += yesDrift
		persisted.InitialPosition.No += noDrift
	}

	persisted.YesTokens = actualYes
	persisted.NoTokens = actualNo
	persisted.ProcessedFillIDs = processed

	return &Tracker{state: persisted}, warning
}

// Snapshot returns a copy of the current ledger state.
func (t *Tracker) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// ProcessFill applies a fill exactly once. Duplicate ids are silently
// dropped (ErrDuplicateFill). Failed fills and fills against an unrecognized
// token are dropped with an error the caller should log, not propagate.
func (t *Tracker) ProcessFill(fill types.Fill) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fill.ID == "" {
		fill.ID = uuid.NewString()
	}
	if t.state.ProcessedFillIDs == nil {
		t.state.ProcessedFillIDs = make(map[string]bool)
	}
	if t.state.ProcessedFillIDs[fill.ID] {
		return apperrors.ErrDuplicateFill
	}
	if fill.Status == types.FillFailed {
		return nil
	}

	switch fill.TokenID {
	case t.state.YesTokenID:
		t.applyYesFill(fill)
	case t.state.NoTokenID:
		t.applyNoFill(fill)
	default:
		return fmt.Errorf("%w: token_id=%s market=%s", apperrors.ErrUnknownToken, fill.TokenID, t.state.ConditionID)
	}

	t.state.ProcessedFillIDs[fill.ID] = true
	t.state.Fills = append(t.state.Fills, fill)
	return nil
}

func (t *Tracker) applyYesFill(fill types.Fill) {
	if fill.Side == types.BUY {
		t.state.Economics.YesBought += fill.Size
		t.state.Economics.YesCost += fill.Price * fill.Size
		t.state.YesTokens += fill.Size
		return
	}
	sellQty := math.Min(fill.Size, t.state.YesTokens)
	_, avgCost, ok := t.avgCostSideLocked("yes")
	if ok {
		t.state.Economics.RealizedPnL += (fill.Price - avgCost) * sellQty
	}
	t.state.Economics.YesSold += fill.Size
	t.state.Economics.YesProceeds += fill.Price * fill.Size
	t.state.YesTokens = math.Max(0, t.state.YesTokens-fill.Size)
}

func (t *Tracker) applyNoFill(fill types.Fill) {
	if fill.Side == types.BUY {
		t.state.Economics.NoBought += fill.Size
		t.state.Economics.NoCost += fill.Price * fill.Size
		t.state.NoTokens += fill.Size
		return
	}
	sellQty := math.Min(fill.Size, t.state.NoTokens)
	_, avgCost, ok := t.avgCostSideLocked("no")
	if ok {
		t.state.Economics.RealizedPnL += (fill.Price - avgCost) * sellQty
	}
	t.state.Economics.NoSold += fill.Size
	t.state.Economics.NoProceeds += fill.Price * fill.Size
	t.state.NoTokens = math.Max(0, t.state.NoTokens-fill.Size)
}

// avgCostSideLocked computes avg_cost(side) per spec: total cost (including
// any initial_cost_basis contribution for initial_position tokens) divided
// by total bought (including initial_position tokens). Returns false if the
// side has never been bought.
func (t *Tracker) avgCostSideLocked(side string) (float64, float64, bool) {
	var bought, cost, initialTokens, initialAvg float64
	switch side {
	case "yes":
		bought, cost = t.state.Economics.YesBought, t.state.Economics.YesCost
		initialTokens = t.state.InitialPosition.Yes
		if t.state.InitialCostBasis != nil {
			initialAvg = t.state.InitialCostBasis.YesAvgCost
		}
	case "no":
		bought, cost = t.state.Economics.NoBought, t.state.Economics.NoCost
		initialTokens = t.state.InitialPosition.No
		if t.state.InitialCostBasis != nil {
			initialAvg = t.state.InitialCostBasis.NoAvgCost
		}
	}

	totalBought := bought + initialTokens
	totalCost := cost + initialAvg*initialTokens
	if totalBought <= 0 {
		return 0, 0, false
	}
	return totalBought, totalCost / totalBought, true
}

// AvgCost returns avg_cost(side): nil (ok=false) if that side was never
// bought.
func (t *Tracker) AvgCost(side types.Side) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if side == types.BUY {
		_, cost, ok := t.avgCostSideLocked("yes")
		return cost, ok
	}
	_, cost, ok := t.avgCostSideLocked("no")
	return cost, ok
}

// AvgYesCost and AvgNoCost are the named accessors used by the liquidator
// to compute break-even ceilings.
func (t *Tracker) AvgYesCost() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, cost, ok := t.avgCostSideLocked("yes")
	return cost, ok
}

func (t *Tracker) AvgNoCost() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, cost, ok := t.avgCostSideLocked("no")
	return cost, ok
}

// UnrealizedPnL evaluates mark-to-market P&L at the given midpoint:
// yes_tokens·(mid−avg_yes) + no_tokens·((1−mid)−avg_no), treating an
// unknown average cost as zero rather than excluding the term.
func (t *Tracker) UnrealizedPnL(mid float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, avgYes, _ := t.avgCostSideLocked("yes")
	_, avgNo, _ := t.avgCostSideLocked("no")

	return t.state.YesTokens*(mid-avgYes) + t.state.NoTokens*((1-mid)-avgNo)
}

// RealizedPnL returns economics.realized_pnl.
func (t *Tracker) RealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Economics.RealizedPnL
}

// CanBuyYes and CanBuyNo are the read-only exposure-gating predicates.
func (t *Tracker) CanBuyYes() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.NetExposure() < t.state.Limits.MaxNetExposure
}

func (t *Tracker) CanBuyNo() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.NetExposure() > -t.state.Limits.MaxNetExposure
}

// LimitStatus reports utilization against max_net_exposure and which side,
// if any, is currently blocked.
func (t *Tracker) LimitStatus() LimitStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	net := t.state.NetExposure()
	maxExp := t.state.Limits.MaxNetExposure
	var utilization float64
	if maxExp > 0 {
		utilization = math.Abs(net) / maxExp
	}

	blocked := types.BlockedNone
	switch {
	case net >= maxExp && maxExp > 0:
		blocked = types.BlockedYes
	case net <= -maxExp && maxExp > 0:
		blocked = types.BlockedNo
	}

	return LimitStatus{
		UtilizationPct: utilization * 100,
		IsWarning:      utilization >= t.state.Limits.WarnThreshold,
		IsLimitReached: blocked != types.BlockedNone,
		BlockedSide:    blocked,
	}
}

// Merge subtracts amount from both yes_tokens and no_tokens, freeing amount
// USD of collateral. It deliberately never touches the economics sums, so
// avg_cost(side) — a function purely of cumulative bought/cost, independent
// of current holdings — is preserved automatically.
func (t *Tracker) Merge(amount float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if amount <= 0 {
		return nil
	}
	if t.state.YesTokens < amount || t.state.NoTokens < amount {
		return apperrors.ErrInsufficientBalance
	}

	t.state.YesTokens -= amount
	t.state.NoTokens -= amount
	return nil
}

// Adjust is the out-of-band administrative operation used after on-chain
// splits or external transfers: it sets absolute balances and rewrites
// initial_position, leaving economics untouched.
func (t *Tracker) Adjust(yesBalance, noBalance float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.YesTokens = yesBalance
	t.state.NoTokens = noBalance
	t.state.InitialPosition = InitialPosition{
		Yes:       yesBalance,
		No:        noBalance,
		Timestamp: time.Now(),
	}
}
