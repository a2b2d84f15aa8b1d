// Rewards market maker — an autonomous agent that discovers the Polymarket
// binary prediction market currently paying the best liquidity rewards for a
// given capital budget, quotes a reward-eligible two-sided market on it, and
// moves to a passive unwind once its exposure limit is hit.
//
// Architecture:
//
//	main.go                      — entry point: loads config + flags, wires collaborators, waits for SIGINT/SIGTERM
//	orchestrator/orchestrator.go — supervisor: startup recovery, discovery, switch timer, main loop
//	marketmaker/maker.go         — per-market quoting: debounced requote, fill attribution, merge
//	quote/quote.go               — reward-band quote math
//	tracker/tracker.go           — YES/NO position ledger, cost basis, exposure limits
//	liquidation/liquidation.go   — passive-stage unwind for markets that hit their exposure limit
//	metadata/client.go           — Gamma API client: rewarded-market discovery, neg_risk refresh
//	exchange/client.go           — REST client for the Polymarket CLOB API
//	exchange/auth.go             — L1 (EIP-712) and L2 (HMAC) authentication
//	wsfeed/feed.go               — WebSocket feeds (market data + user fills) with auto-reconnect
//	settlement/client.go         — on-chain split/merge of CTF outcome tokens
//	store/store.go               — JSON file persistence for fill ledgers and the liquidation queue
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"rewards-mm/internal/config"
	"rewards-mm/internal/exchange"
	"rewards-mm/internal/metadata"
	"rewards-mm/internal/orchestrator"
	"rewards-mm/internal/settlement"
	"rewards-mm/internal/store"
	"rewards-mm/internal/wsfeed"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}

	var orchCfg config.OrchestratorConfig
	fs := config.FlagSet(&orchCfg)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		slog.Error("failed to parse flags", "error", err)
		os.Exit(1)
	}
	if err := config.ApplyFlags(cfg, fs); err != nil {
		slog.Error("failed to apply flags", "error", err)
		os.Exit(1)
	}
	cfg.Orchestrator.LiquidityUSD = orchCfg.LiquidityUSD
	cfg.Orchestrator.MinImprovementFraction = orchCfg.MinImprovementFraction
	cfg.Orchestrator.OrderSizeUSD = orchCfg.OrderSizeUSD
	cfg.Orchestrator.SpreadFraction = orchCfg.SpreadFraction
	cfg.Orchestrator.MaxVolatility = orchCfg.MaxVolatility
	cfg.Orchestrator.NoVolatilityFilter = orchCfg.NoVolatilityFilter
	cfg.Orchestrator.CheckPositionsOnly = orchCfg.CheckPositionsOnly
	cfg.Orchestrator.SwitchingEnabled = orchCfg.SwitchingEnabled

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	auth, err := exchange.NewAuth(*cfg)
	if err != nil {
		logger.Error("failed to build wallet auth", "error", err)
		os.Exit(1)
	}
	client := exchange.NewClient(*cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials configured, deriving API key via L1 signature")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			logger.Error("failed to derive API key", "error", err)
			os.Exit(1)
		}
		auth.SetCredentials(*creds)
	}

	settleClient, err := settlement.NewClient(*cfg, auth)
	if err != nil {
		logger.Error("failed to build settlement client", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	mdClient := metadata.NewClient(*cfg)
	mktFeed := wsfeed.NewMarketFeed(cfg.API.WSMarketURL, logger)
	usrFeed := wsfeed.NewUserFeed(cfg.API.WSUserURL, auth, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := mktFeed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("market feed stopped", "error", err)
		}
	}()
	go func() {
		if err := usrFeed.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("user feed stopped", "error", err)
		}
	}()

	orch := orchestrator.New(*cfg, client, mdClient, settleClient, st, mktFeed, usrFeed, logger)

	checkOnly, err := orch.Startup(ctx)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if checkOnly {
		os.Exit(0)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("rewards market maker started",
		"liquidity_usd", cfg.Orchestrator.LiquidityUSD,
		"order_size_usd", cfg.Orchestrator.OrderSizeUSD,
		"switching_enabled", cfg.Orchestrator.SwitchingEnabled,
		"dry_run", cfg.DryRun,
	)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- orch.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-runErrCh
	case err := <-runErrCh:
		if err != nil {
			logger.Error("orchestrator exited with error", "error", err)
			cancel()
			os.Exit(1)
		}
	}

	fmt.Println("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
