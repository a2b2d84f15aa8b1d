// Package apperrors centralizes the sentinel error values the orchestrator
// checks with errors.Is. Every package wraps these with fmt.Errorf("...: %w", ...)
// the way the exchange client wraps REST failures, rather than inventing a
// new error type per package.
package apperrors

import "errors"

var (
	// ErrInsufficientCollateral is returned at startup when wallet collateral
	// is below 2x the configured order size.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrNoEligibleMarkets is returned by discovery when no rewarded market
	// passes the configured filters.
	ErrNoEligibleMarkets = errors.New("no eligible markets")

	// ErrConfigInvalid is returned by config validation; the caller should
	// print the specific rule violated alongside this error.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrUnknownToken is returned when a fill's token_id matches neither
	// outcome of the market it is attributed to.
	ErrUnknownToken = errors.New("fill token_id matches neither market outcome")

	// ErrDuplicateFill marks a fill id already present in processed_fill_ids.
	// Callers treat this as a silent drop, not a propagated failure.
	ErrDuplicateFill = errors.New("duplicate fill")

	// ErrInsufficientBalance is returned by merge when either side holds
	// less than the requested merge amount.
	ErrInsufficientBalance = errors.New("insufficient balance for merge")

	// ErrOrderPlacementFailed wraps a rejected place_order call. The
	// active-quotes slot for that side must not be mutated on this error.
	ErrOrderPlacementFailed = errors.New("order placement failed")

	// ErrCancelUnconfirmed is returned when a cancel call fails and the
	// order still appears in the open-order set; no replacement may be
	// placed for that side this cycle.
	ErrCancelUnconfirmed = errors.New("cancel unconfirmed, order still open")

	// ErrSettlementFailed wraps a failed split/merge call against the
	// on-chain settlement client.
	ErrSettlementFailed = errors.New("settlement operation failed")

	// ErrReconciliationDrift marks a reconciliation discrepancy beyond the
	// 1e-3 tolerance between replayed and actual exchange balances.
	ErrReconciliationDrift = errors.New("position reconciliation drift exceeds tolerance")

	// ErrStreamDisconnected marks a market-data or user-trade stream drop,
	// triggering fallback REST polling.
	ErrStreamDisconnected = errors.New("stream disconnected")
)
