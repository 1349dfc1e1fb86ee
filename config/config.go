package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradingEngine/internal/adapters/logger"
	"tradingEngine/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool
	DryRun    bool // Fill orders locally instead of sending them to the venue

	// Trading Parameters
	Symbols              []string
	PositionSizeFraction float64 // Fraction of portfolio value per full-strength signal
	InitialCapital       float64
	PollInterval         time.Duration

	// Risk Limits
	RiskLimits domain.RiskLimits

	// Strategy Parameters
	StrategyShortMAPeriod int     // e.g., 20
	StrategyLongMAPeriod  int     // e.g., 50
	StrategyRSIPeriod     int     // e.g., 14
	StrategyRSIOverbought float64 // e.g., 70.0
	StrategyRSIOversold   float64 // e.g., 30.0
	StrategyMaxHistory    int     // Closes kept per symbol

	// Market Data
	StreamPrices         bool
	StreamInterval       string // Kline interval of the price stream, e.g. "1m"
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	// Execution
	ExecutionQueueSize int
	QuantityPrecision  int
	PricePrecision     int

	// Database
	DBPath string

	// Logging
	LogLevel  logger.LogLevel
	LogFormat logger.Format

	// HTTP status API; empty disables it
	HTTPAddr string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Malformed values are reported and replaced by the default so later checks
	// do not pile up follow-on errors.
	envInt := func(key string, def int) int {
		v, err := getEnvAsIntRequired(key, def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return def
		}
		return v
	}
	envFloat := func(key string, def float64) float64 {
		v, err := getEnvAsFloatRequired(key, def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return def
		}
		return v
	}
	envBool := func(key string, def bool) bool {
		v, err := getEnvAsBoolRequired(key, def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
			return def
		}
		return v
	}

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = envBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.DryRun = envBool("DRY_RUN", true)

	if !cfg.DryRun {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set when DRY_RUN=false")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set when DRY_RUN=false")
		}
	}

	// Trading Parameters
	cfg.Symbols = parseList(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}

	cfg.PositionSizeFraction, err = getEnvAsFloatRequired("POSITION_SIZE_LIMIT", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE_LIMIT: %v", err))
	} else if cfg.PositionSizeFraction <= 0 || cfg.PositionSizeFraction > 1 {
		errs = append(errs, "POSITION_SIZE_LIMIT must be between 0.0 (exclusive) and 1.0")
	}

	cfg.InitialCapital, err = getEnvAsFloatRequired("INITIAL_CAPITAL", domain.DefaultInitialCapital)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid INITIAL_CAPITAL: %v", err))
	} else if cfg.InitialCapital <= 0 {
		errs = append(errs, "INITIAL_CAPITAL must be positive")
	}

	pollMs, err := getEnvAsIntRequired("POLL_INTERVAL_MS", 100)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POLL_INTERVAL_MS: %v", err))
	} else if pollMs <= 0 {
		errs = append(errs, "POLL_INTERVAL_MS must be positive")
	}
	cfg.PollInterval = time.Duration(pollMs) * time.Millisecond

	// Risk Limits
	limitVars := []struct {
		key string
		def float64
		dst *float64
	}{
		{"RISK_MAX_POSITION_SIZE", 0.1, &cfg.RiskLimits.MaxPositionSize},
		{"RISK_MAX_LEVERAGE", 2.0, &cfg.RiskLimits.MaxLeverage},
		{"RISK_MAX_DRAWDOWN", 0.2, &cfg.RiskLimits.MaxDrawdown},
		{"RISK_DAILY_LOSS_LIMIT", 50000, &cfg.RiskLimits.DailyLossLimit},
		{"RISK_POSITION_CONCENTRATION", 0.15, &cfg.RiskLimits.PositionConcentration},
	}
	limitsParsed := true
	for _, v := range limitVars {
		*v.dst, err = getEnvAsFloatRequired(v.key, v.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", v.key, err))
			limitsParsed = false
		}
	}
	if limitsParsed {
		if err := cfg.RiskLimits.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Strategy Parameters (using defaults if not set)
	cfg.StrategyShortMAPeriod = envInt("STRATEGY_SHORT_MA_PERIOD", 20)
	cfg.StrategyLongMAPeriod = envInt("STRATEGY_LONG_MA_PERIOD", 50)
	cfg.StrategyRSIPeriod = envInt("STRATEGY_RSI_PERIOD", 14)
	cfg.StrategyRSIOverbought = envFloat("STRATEGY_RSI_OVERBOUGHT", 70.0)
	cfg.StrategyRSIOversold = envFloat("STRATEGY_RSI_OVERSOLD", 30.0)
	cfg.StrategyMaxHistory = envInt("STRATEGY_MAX_HISTORY", 500)

	// Validate strategy periods
	if cfg.StrategyShortMAPeriod <= 0 || cfg.StrategyLongMAPeriod <= 0 || cfg.StrategyRSIPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, RSI) must be positive")
	}
	if cfg.StrategyShortMAPeriod >= cfg.StrategyLongMAPeriod {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}
	if cfg.StrategyMaxHistory <= cfg.StrategyLongMAPeriod {
		errs = append(errs, "STRATEGY_MAX_HISTORY must exceed STRATEGY_LONG_MA_PERIOD")
	}

	// Market Data
	cfg.StreamPrices = envBool("STREAM_PRICES", false)
	cfg.StreamInterval = getEnv("STREAM_INTERVAL", "1m")

	reconnectDelaySeconds := envInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = envInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Execution
	cfg.ExecutionQueueSize = envInt("EXECUTION_QUEUE_SIZE", 64)
	if cfg.ExecutionQueueSize <= 0 {
		errs = append(errs, "EXECUTION_QUEUE_SIZE must be positive")
	}
	cfg.QuantityPrecision = envInt("QUANTITY_PRECISION", 3)
	cfg.PricePrecision = envInt("PRICE_PRECISION", 2)
	if cfg.QuantityPrecision < 0 || cfg.PricePrecision < 0 {
		errs = append(errs, "QUANTITY_PRECISION and PRICE_PRECISION cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/trading_engine.db")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = logger.ParseFormat(getEnv("LOG_FORMAT", "text"))

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// Mode describes how orders reach the market.
func (c *Config) Mode() string {
	switch {
	case c.DryRun:
		return "paper"
	case c.IsTestnet:
		return "testnet"
	default:
		return "production"
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

func parseList(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
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

func getEnvAsBoolRequired(key string, defaultValue bool) (bool, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid boolean value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
