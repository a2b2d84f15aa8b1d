// Package config defines all configuration for the rewards market-making
// orchestrator. Secrets and endpoints load from a YAML file (default:
// configs/config.yaml) with sensitive fields overridable via POLY_* / FUNDER_*
// environment variables. The orchestrator's per-run tuning (liquidity budget, switch threshold,
// position-recovery policy) is layered on top from CLI flags via pflag,
// since that tuning changes run to run and does not belong in a committed
// YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rewards-mm/internal/apperrors"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun  bool          `mapstructure:"dry_run"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
	API     APIConfig     `mapstructure:"api"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`

	// Orchestrator carries the run's tuning. Unlike the rest of Config it is
	// not read from YAML — ApplyFlags populates it from the CLI surface.
	Orchestrator OrchestratorConfig `mapstructure:"-"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
	RPCURL        string `mapstructure:"rpc_url"`
}

// APIConfig holds Polymarket API endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the bot derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	WSUserURL    string `mapstructure:"ws_user_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StoreConfig sets where position and liquidation-queue data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StrayPositionPolicy names how startup should handle inventory it finds on
// a market with no entry in liquidations.json.
type StrayPositionPolicy string

const (
	// PolicyPrompt asks the operator interactively. Default.
	PolicyPrompt StrayPositionPolicy = "prompt"
	// PolicyAutoResume enqueues strays as new liquidations without asking.
	PolicyAutoResume StrayPositionPolicy = "auto_resume"
	// PolicyIgnore leaves strays untouched after an explicit typed confirmation.
	PolicyIgnore StrayPositionPolicy = "ignore"
)

// OrchestratorConfig is the per-run tuning supplied on the command line.
// It is deliberately separate from the YAML-loaded Config fields above: a
// wallet and API endpoint are fixed per deployment, but liquidity budget,
// switch aggressiveness, and position-recovery policy are choices an
// operator makes fresh at every launch.
type OrchestratorConfig struct {
	LiquidityUSD          float64       // --liquidity
	MinImprovementFraction float64      // --threshold, default 0.20
	ReEvaluateInterval    time.Duration // --re-evaluate-interval, minutes, floor 30s
	OrderSizeUSD          float64       // --order-size
	SpreadFraction        float64       // --spread, (0,1]
	MaxVolatility         float64       // --max-volatility
	VolatilityLookback    time.Duration // --volatility-lookback, minutes
	NoVolatilityFilter    bool          // --no-volatility-filter
	StrayPositionPolicy   StrayPositionPolicy
	CheckPositionsOnly    bool // --check-positions-only
	SwitchingEnabled      bool // --enable-switching
	DryRun                bool // --dry-run / --no-dry-run, overrides Config.DryRun when flag is set
}

const (
	DefaultMinImprovementFraction = 0.20
	DefaultReEvaluateInterval     = 5 * time.Minute
	MinReEvaluateInterval         = 30 * time.Second
	DefaultVolatilityLookback     = 60 * time.Minute
)

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: POLY_PRIVATE_KEY, POLY_API_KEY, POLY_API_SECRET, POLY_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("POLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env. FUNDER_PRIVATE_KEY/FUNDER_PUBLIC_KEY
	// are the names the orchestrator's CLI surface documents; POLY_* are kept
	// for compatibility with the plain config-file path.
	if key := os.Getenv("FUNDER_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	} else if key := os.Getenv("POLY_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if addr := os.Getenv("FUNDER_PUBLIC_KEY"); addr != "" {
		cfg.Wallet.FunderAddress = addr
	}
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("POLY_DRY_RUN") == "true" || os.Getenv("POLY_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// FlagSet builds the orchestrator's CLI surface bound to dest,
// pre-populated with defaults. Call pflag.Parse (or FlagSet.Parse) and then
// ApplyFlags to fold the parsed values into a Config.
func FlagSet(dest *OrchestratorConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("orchestrator", pflag.ContinueOnError)

	fs.Float64Var(&dest.LiquidityUSD, "liquidity", 0, "capital budget in USD to deploy as liquidity")
	fs.Float64Var(&dest.MinImprovementFraction, "threshold", DefaultMinImprovementFraction, "fractional earnings improvement required to switch markets")
	fs.Duration("re-evaluate-interval", DefaultReEvaluateInterval, "minutes between market re-evaluations (minimum 30s)")
	fs.Float64Var(&dest.OrderSizeUSD, "order-size", 0, "notional size per resting order, in USD")
	fs.Float64Var(&dest.SpreadFraction, "spread", 0.5, "fraction of the reward band's half-width to quote inside, in (0,1]")
	fs.Float64Var(&dest.MaxVolatility, "max-volatility", 0, "reject candidate markets above this realized volatility")
	fs.Duration("volatility-lookback", DefaultVolatilityLookback, "minutes of trailing price history used for the volatility filter")
	fs.BoolVar(&dest.NoVolatilityFilter, "no-volatility-filter", false, "disable the volatility filter entirely")
	fs.Bool("auto-resume", false, "auto-enqueue stray positions found at startup as liquidations")
	fs.Bool("ignore-positions", false, "ignore stray positions found at startup after an explicit confirmation")
	fs.BoolVar(&dest.CheckPositionsOnly, "check-positions-only", false, "report detected positions and exit without trading")
	fs.BoolVar(&dest.SwitchingEnabled, "enable-switching", false, "periodically re-evaluate and switch to a more profitable market")
	fs.Bool("dry-run", false, "simulate without placing real orders")
	fs.Bool("no-dry-run", false, "place real orders (overrides a config file's dry_run: true)")

	return fs
}

// ApplyFlags folds a parsed FlagSet's values into dest, resolving the
// conflict between --dry-run/--no-dry-run and the stray-position policy
// flags. When both --ignore-positions and --auto-resume are passed,
// --ignore-positions takes precedence, since a request to ignore positions
// is the more conservative (no-automatic-order-placement) reading of intent.
// See DESIGN.md for the rationale.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	reeval, err := fs.GetDuration("re-evaluate-interval")
	if err != nil {
		return err
	}
	if reeval < MinReEvaluateInterval {
		reeval = MinReEvaluateInterval
	}
	cfg.Orchestrator.ReEvaluateInterval = reeval

	lookback, err := fs.GetDuration("volatility-lookback")
	if err != nil {
		return err
	}
	cfg.Orchestrator.VolatilityLookback = lookback

	ignorePositions, _ := fs.GetBool("ignore-positions")
	autoResume, _ := fs.GetBool("auto-resume")
	switch {
	case ignorePositions:
		cfg.Orchestrator.StrayPositionPolicy = PolicyIgnore
	case autoResume:
		cfg.Orchestrator.StrayPositionPolicy = PolicyAutoResume
	default:
		cfg.Orchestrator.StrayPositionPolicy = PolicyPrompt
	}

	noDryRun, _ := fs.GetBool("no-dry-run")
	dryRun, _ := fs.GetBool("dry-run")
	switch {
	case noDryRun:
		cfg.DryRun = false
	case dryRun:
		cfg.DryRun = true
	}

	return nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("%w: wallet.private_key is required (set FUNDER_PRIVATE_KEY)", apperrors.ErrConfigInvalid)
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("%w: wallet.chain_id is required (137 for mainnet)", apperrors.ErrConfigInvalid)
	}
	if c.Wallet.RPCURL == "" {
		return fmt.Errorf("%w: wallet.rpc_url is required (Polygon RPC endpoint for merge/split settlement)", apperrors.ErrConfigInvalid)
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("%w: wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)", apperrors.ErrConfigInvalid)
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("%w: wallet.funder_address is required when wallet.signature_type is 1 or 2", apperrors.ErrConfigInvalid)
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("%w: api.clob_base_url is required", apperrors.ErrConfigInvalid)
	}
	if c.Orchestrator.LiquidityUSD <= 0 {
		return fmt.Errorf("%w: --liquidity must be > 0", apperrors.ErrConfigInvalid)
	}
	if c.Orchestrator.OrderSizeUSD <= 0 {
		return fmt.Errorf("%w: --order-size must be > 0", apperrors.ErrConfigInvalid)
	}
	if c.Orchestrator.SpreadFraction <= 0 || c.Orchestrator.SpreadFraction > 1 {
		return fmt.Errorf("%w: --spread must be in (0,1]", apperrors.ErrConfigInvalid)
	}
	if c.Orchestrator.MinImprovementFraction < 0 {
		return fmt.Errorf("%w: --threshold must be >= 0", apperrors.ErrConfigInvalid)
	}
	return nil
}
