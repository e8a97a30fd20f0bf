package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port            int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	WebhookTimeout  time.Duration

	// TickInterval drives ticks on a timer. Zero leaves ticks to POST /ticks.
	TickInterval time.Duration

	PriceLimitEnabled   bool
	PriceLimitMode      string
	PriceLimitFloor     int64
	PriceLimitCeiling   int64
	PriceLimitBase      float64
	StockPriceLimitBase float64

	CircuitBreakerWindow           int
	CircuitBreakerMinHistory       int
	CircuitBreakerHaltTicks        int64
	CircuitBreakerVolatilityWeight float64

	IndexCBTier1      float64
	IndexCBTier2      float64
	IndexCBTier3      float64
	IndexCBTier1Ticks int64
	IndexCBTier2Ticks int64

	StockOrderExpiryTicks int64
	LaborHaloCoefficient  float64
	MatchWorkers          int

	MortgageMaxLTV       float64
	MortgageTermTicks    int64
	MortgageInterestRate float64
	EscrowAgentID        string
	BankAgentID          string
	BankReservesPennies  int64
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		Port:            l.int("PORT", 8080),
		LogLevel:        getStr("LOG_LEVEL", "info"),
		ReadTimeout:     l.duration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    l.duration("WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:     l.duration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: l.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		WebhookTimeout:  l.duration("WEBHOOK_TIMEOUT", 5*time.Second),
		TickInterval:    l.duration("TICK_INTERVAL", 0),

		PriceLimitEnabled:   l.bool("PRICE_LIMIT_ENABLED", false),
		PriceLimitMode:      strings.ToLower(getStr("PRICE_LIMIT_MODE", "dynamic")),
		PriceLimitFloor:     l.int64("PRICE_LIMIT_FLOOR", 0),
		PriceLimitCeiling:   l.int64("PRICE_LIMIT_CEILING", 0),
		PriceLimitBase:      l.float("PRICE_LIMIT_BASE", 0.15),
		StockPriceLimitBase: l.float("STOCK_PRICE_LIMIT_BASE", 0.15),

		CircuitBreakerWindow:           l.int("CIRCUIT_BREAKER_WINDOW", 20),
		CircuitBreakerMinHistory:       l.int("CIRCUIT_BREAKER_MIN_HISTORY", 5),
		CircuitBreakerHaltTicks:        l.int64("CIRCUIT_BREAKER_HALT_TICKS", 10),
		CircuitBreakerVolatilityWeight: l.float("CIRCUIT_BREAKER_VOLATILITY_WEIGHT", 1.0),

		IndexCBTier1:      l.float("INDEX_CB_TIER1", 0.08),
		IndexCBTier2:      l.float("INDEX_CB_TIER2", 0.15),
		IndexCBTier3:      l.float("INDEX_CB_TIER3", 0.20),
		IndexCBTier1Ticks: l.int64("INDEX_CB_TIER1_TICKS", 20),
		IndexCBTier2Ticks: l.int64("INDEX_CB_TIER2_TICKS", 40),

		StockOrderExpiryTicks: l.int64("STOCK_ORDER_EXPIRY_TICKS", 5),
		LaborHaloCoefficient:  l.float("LABOR_HALO_COEFFICIENT", 0.1),
		MatchWorkers:          l.int("MATCH_WORKERS", 1),

		MortgageMaxLTV:       l.float("MORTGAGE_MAX_LTV", 0.8),
		MortgageTermTicks:    l.int64("MORTGAGE_TERM_TICKS", 300),
		MortgageInterestRate: l.float("MORTGAGE_INTEREST_RATE", 0.05),
		EscrowAgentID:        getStr("ESCROW_AGENT_ID", "escrow"),
		BankAgentID:          getStr("BANK_AGENT_ID", "bank"),
		BankReservesPennies:  l.int64("BANK_RESERVES_PENNIES", 0),
	}
	if l.err != nil {
		return nil, l.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.PriceLimitMode != "static" && c.PriceLimitMode != "dynamic" {
		return fmt.Errorf("invalid PRICE_LIMIT_MODE: %q, must be one of: static, dynamic", c.PriceLimitMode)
	}

	checks := []struct {
		key string
		ok  bool
		msg string
	}{
		{"TICK_INTERVAL", c.TickInterval >= 0, "must be >= 0"},
		{"PRICE_LIMIT_FLOOR", c.PriceLimitFloor >= 0, "must be >= 0"},
		{"PRICE_LIMIT_CEILING", c.PriceLimitCeiling == 0 || c.PriceLimitCeiling >= c.PriceLimitFloor, "must be 0 or >= PRICE_LIMIT_FLOOR"},
		{"PRICE_LIMIT_BASE", c.PriceLimitBase > 0 && c.PriceLimitBase < 1, "must be in (0, 1)"},
		{"STOCK_PRICE_LIMIT_BASE", c.StockPriceLimitBase > 0 && c.StockPriceLimitBase < 1, "must be in (0, 1)"},
		{"CIRCUIT_BREAKER_WINDOW", c.CircuitBreakerWindow >= 1, "must be >= 1"},
		{"CIRCUIT_BREAKER_MIN_HISTORY", c.CircuitBreakerMinHistory >= 1 && c.CircuitBreakerMinHistory <= c.CircuitBreakerWindow, "must be in [1, CIRCUIT_BREAKER_WINDOW]"},
		{"CIRCUIT_BREAKER_HALT_TICKS", c.CircuitBreakerHaltTicks >= 1, "must be >= 1"},
		{"CIRCUIT_BREAKER_VOLATILITY_WEIGHT", c.CircuitBreakerVolatilityWeight >= 0, "must be >= 0"},
		{"INDEX_CB_TIER1", c.IndexCBTier1 > 0 && c.IndexCBTier1 < c.IndexCBTier2, "must be > 0 and below INDEX_CB_TIER2"},
		{"INDEX_CB_TIER2", c.IndexCBTier2 < c.IndexCBTier3, "must be below INDEX_CB_TIER3"},
		{"INDEX_CB_TIER3", c.IndexCBTier3 < 1, "must be < 1"},
		{"INDEX_CB_TIER1_TICKS", c.IndexCBTier1Ticks >= 1, "must be >= 1"},
		{"INDEX_CB_TIER2_TICKS", c.IndexCBTier2Ticks >= 1, "must be >= 1"},
		{"STOCK_ORDER_EXPIRY_TICKS", c.StockOrderExpiryTicks >= 0, "must be >= 0"},
		{"LABOR_HALO_COEFFICIENT", c.LaborHaloCoefficient >= 0, "must be >= 0"},
		{"MATCH_WORKERS", c.MatchWorkers >= 1, "must be >= 1"},
		{"MORTGAGE_MAX_LTV", c.MortgageMaxLTV >= 0 && c.MortgageMaxLTV <= 1, "must be in [0, 1]"},
		{"MORTGAGE_TERM_TICKS", c.MortgageTermTicks >= 1, "must be >= 1"},
		{"MORTGAGE_INTEREST_RATE", c.MortgageInterestRate >= 0, "must be >= 0"},
		{"ESCROW_AGENT_ID", c.EscrowAgentID != c.BankAgentID, "must differ from BANK_AGENT_ID"},
		{"BANK_RESERVES_PENNIES", c.BankReservesPennies >= 0, "must be >= 0"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return fmt.Errorf("invalid %s: %w", ch.key, errors.New(ch.msg))
		}
	}
	return nil
}

// loader keeps the first parse error so Load reads as a flat list of keys.
type loader struct {
	err error
}

func (l *loader) fail(key string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (l *loader) int(key string, defaultVal int) int {
	v, err := getInt(key, defaultVal)
	if err != nil {
		l.fail(key, err)
	}
	return v
}

func (l *loader) int64(key string, defaultVal int64) int64 {
	v, err := getInt64(key, defaultVal)
	if err != nil {
		l.fail(key, err)
	}
	return v
}

func (l *loader) float(key string, defaultVal float64) float64 {
	v, err := getFloat(key, defaultVal)
	if err != nil {
		l.fail(key, err)
	}
	return v
}

func (l *loader) bool(key string, defaultVal bool) bool {
	v, err := getBool(key, defaultVal)
	if err != nil {
		l.fail(key, err)
	}
	return v
}

func (l *loader) duration(key string, defaultVal time.Duration) time.Duration {
	v, err := getDuration(key, defaultVal)
	if err != nil {
		l.fail(key, err)
	}
	return v
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
