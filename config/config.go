package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Trading mode selects the execution backend.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Log output formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// VenueConfig holds per-venue connectivity and cost parameters.
type VenueConfig struct {
	Name       string
	Symbol     string
	TakerFee   float64 // fraction, e.g. 0.00006
	WSEndpoint string  // only used by the venue B raw websocket client
}

// Config holds all application configuration. A Config value is an
// immutable snapshot; Load builds a fresh one, so a running engine swaps
// snapshots atomically instead of mutating shared fields.
type Config struct {
	// Venues
	VenueA VenueConfig
	VenueB VenueConfig

	// Spread thresholds (fractions: 0.001 means 0.1%)
	MinSpreadEnter float64
	MinSpreadExit  float64
	MarketSlippage float64 // assumed extra slippage applied to every market order

	// Risk limits
	MaxPositionContracts float64
	MinOrderContracts    float64
	MaxDailyLoss         float64
	MaxSlippage          float64
	SafetyMultiplier     float64
	MinOrderInterval     time.Duration

	// Loop and health timings
	MainLoopInterval    time.Duration
	HealthCheckInterval time.Duration
	DiagnosisInterval   time.Duration
	HeartbeatInterval   time.Duration

	// Connection settings
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ConnectionTimeout    time.Duration
	ExecutionTimeout     time.Duration

	// Execution
	TradingMode         string
	PaperInitialBalance float64

	// Storage paths
	LedgerPath         string
	DBPath             string
	TradesCSVPath      string
	PaperPortfolioPath string

	// Venue A API credentials (only needed by the live binance-style feed
	// for authenticated endpoints; the public depth stream works without)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables (.env file).
func Load() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string

	// Venues
	cfg.VenueA = VenueConfig{
		Name:   getEnv("VENUE_A_NAME", "bitget"),
		Symbol: getEnv("SYMBOL_A", "NVDAUSDT"),
	}
	cfg.VenueB = VenueConfig{
		Name:       getEnv("VENUE_B_NAME", "hyperliquid"),
		Symbol:     getEnv("SYMBOL_B", "xyz:NVDA"),
		WSEndpoint: getEnv("VENUE_B_WS_ENDPOINT", "wss://api.hyperliquid.xyz/ws"),
	}
	if cfg.VenueA.Name == "" || cfg.VenueB.Name == "" {
		errs = append(errs, "VENUE_A_NAME and VENUE_B_NAME must be set")
	}
	if cfg.VenueA.Name == cfg.VenueB.Name {
		errs = append(errs, "VENUE_A_NAME and VENUE_B_NAME must differ")
	}
	if cfg.VenueA.Symbol == "" || cfg.VenueB.Symbol == "" {
		errs = append(errs, "SYMBOL_A and SYMBOL_B must be set")
	}

	cfg.VenueA.TakerFee, err = getEnvAsFloatRequired("FEE_A", 0.00006)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_A: %v", err))
	} else if cfg.VenueA.TakerFee < 0 {
		errs = append(errs, "FEE_A cannot be negative")
	}
	cfg.VenueB.TakerFee, err = getEnvAsFloatRequired("FEE_B", 0.00005)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_B: %v", err))
	} else if cfg.VenueB.TakerFee < 0 {
		errs = append(errs, "FEE_B cannot be negative")
	}

	// Spread thresholds
	cfg.MinSpreadEnter, err = getEnvAsFloatRequired("MIN_SPREAD_ENTER", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_SPREAD_ENTER: %v", err))
	} else if cfg.MinSpreadEnter <= 0 {
		errs = append(errs, "MIN_SPREAD_ENTER must be positive")
	}

	// The exit threshold may be negative: closing at a small adverse spread
	// still locks in profit when the entry spread was wide enough.
	cfg.MinSpreadExit, err = getEnvAsFloatRequired("MIN_SPREAD_EXIT", -0.0002)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_SPREAD_EXIT: %v", err))
	}
	if cfg.MinSpreadExit >= cfg.MinSpreadEnter {
		errs = append(errs, "MIN_SPREAD_EXIT must be less than MIN_SPREAD_ENTER")
	}

	cfg.MarketSlippage, err = getEnvAsFloatRequired("MARKET_SLIPPAGE", 0.0001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_SLIPPAGE: %v", err))
	} else if cfg.MarketSlippage < 0 {
		errs = append(errs, "MARKET_SLIPPAGE cannot be negative")
	}

	// Risk limits
	cfg.MaxPositionContracts, err = getEnvAsFloatRequired("MAX_POSITION_CONTRACTS", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_POSITION_CONTRACTS: %v", err))
	} else if cfg.MaxPositionContracts <= 0 {
		errs = append(errs, "MAX_POSITION_CONTRACTS must be positive")
	}

	cfg.MinOrderContracts, err = getEnvAsFloatRequired("MIN_ORDER_CONTRACTS", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_ORDER_CONTRACTS: %v", err))
	} else if cfg.MinOrderContracts <= 0 {
		errs = append(errs, "MIN_ORDER_CONTRACTS must be positive")
	}
	if cfg.MinOrderContracts > cfg.MaxPositionContracts {
		errs = append(errs, "MIN_ORDER_CONTRACTS cannot exceed MAX_POSITION_CONTRACTS")
	}

	cfg.MaxDailyLoss, err = getEnvAsFloatRequired("MAX_DAILY_LOSS", 100.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if cfg.MaxDailyLoss <= 0 {
		errs = append(errs, "MAX_DAILY_LOSS must be positive")
	}

	cfg.MaxSlippage, err = getEnvAsFloatRequired("MAX_SLIPPAGE", 0.0001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_SLIPPAGE: %v", err))
	} else if cfg.MaxSlippage < 0 {
		errs = append(errs, "MAX_SLIPPAGE cannot be negative")
	}

	cfg.SafetyMultiplier, err = getEnvAsFloatRequired("SAFETY_MULTIPLIER", 0.8)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SAFETY_MULTIPLIER: %v", err))
	} else if cfg.SafetyMultiplier <= 0 || cfg.SafetyMultiplier > 1.0 {
		errs = append(errs, "SAFETY_MULTIPLIER must be in (0.0, 1.0]")
	}

	cfg.MinOrderInterval = getEnvAsDuration("MIN_ORDER_INTERVAL", 3*time.Second)
	if cfg.MinOrderInterval <= 0 {
		errs = append(errs, "MIN_ORDER_INTERVAL must be positive")
	}

	// Loop and health timings
	cfg.MainLoopInterval = getEnvAsDuration("MAIN_LOOP_INTERVAL", 100*time.Millisecond)
	if cfg.MainLoopInterval <= 0 {
		errs = append(errs, "MAIN_LOOP_INTERVAL must be positive")
	}
	cfg.HealthCheckInterval = getEnvAsDuration("HEALTH_CHECK_INTERVAL", 3*time.Second)
	cfg.DiagnosisInterval = getEnvAsDuration("DIAGNOSIS_INTERVAL", 30*time.Second)
	cfg.HeartbeatInterval = getEnvAsDuration("HEARTBEAT_INTERVAL", 30*time.Second)
	if cfg.HeartbeatInterval <= 0 {
		errs = append(errs, "HEARTBEAT_INTERVAL must be positive")
	}

	// Connection settings
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts <= 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS must be positive")
	}
	cfg.ReconnectDelay = getEnvAsDuration("RECONNECT_DELAY", 1*time.Second)
	if cfg.ReconnectDelay <= 0 {
		errs = append(errs, "RECONNECT_DELAY must be positive")
	}
	cfg.ConnectionTimeout = getEnvAsDuration("CONNECTION_TIMEOUT", 10*time.Second)
	cfg.ExecutionTimeout = getEnvAsDuration("EXECUTION_TIMEOUT", 10*time.Second)
	if cfg.ExecutionTimeout <= 0 {
		errs = append(errs, "EXECUTION_TIMEOUT must be positive")
	}

	// Execution
	cfg.TradingMode = strings.ToLower(getEnv("TRADING_MODE", ModePaper))
	switch cfg.TradingMode {
	case ModePaper:
	case ModeLive:
		errs = append(errs, "TRADING_MODE=live is not supported by this build, use paper")
	default:
		errs = append(errs, fmt.Sprintf("invalid TRADING_MODE '%s' (must be paper or live)", cfg.TradingMode))
	}

	cfg.PaperInitialBalance, err = getEnvAsFloatRequired("PAPER_INITIAL_BALANCE", 1000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_INITIAL_BALANCE: %v", err))
	} else if cfg.PaperInitialBalance <= 0 {
		errs = append(errs, "PAPER_INITIAL_BALANCE must be positive")
	}

	// Storage paths
	cfg.LedgerPath = getEnv("LEDGER_PATH", "./data/positions.json")
	cfg.DBPath = getEnv("DB_PATH", "./data/spreadarb.db")
	cfg.TradesCSVPath = getEnv("TRADES_CSV", "./data/trades.csv")
	cfg.PaperPortfolioPath = getEnv("PAPER_PORTFOLIO_PATH", "./data/paper_portfolio.json")
	if cfg.LedgerPath == "" {
		errs = append(errs, "LEDGER_PATH must be set")
	}
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Venue A API credentials (optional for the public market-data stream)
	cfg.APIKey = getEnv("VENUE_A_API_KEY", "")
	cfg.SecretKey = getEnv("VENUE_A_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true)

	// Logging
	cfg.LogLevel = strings.ToUpper(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", LogFormatText))
	if cfg.LogFormat != LogFormatText && cfg.LogFormat != LogFormatJSON {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT '%s' (must be text or json)", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// FeeFor returns the taker fee configured for the named venue, or 0 when
// the venue is unknown.
func (c *Config) FeeFor(venue string) float64 {
	switch venue {
	case c.VenueA.Name:
		return c.VenueA.TakerFee
	case c.VenueB.Name:
		return c.VenueB.TakerFee
	default:
		return 0
	}
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
