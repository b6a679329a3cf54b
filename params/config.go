package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
)

type Storage struct {
	// DBPath is the pebble directory. Empty keeps state in memory only.
	DBPath string
}

type Log struct {
	File  string // also log to this file when set
	Level string // zap level name
}

type API struct {
	Addr               string
	CORSAllowedOrigins []string
}

type Risk struct {
	// LiquidationMarginBufferRatio is added on top of maintenance margin
	// before a flagged account is considered healthy again
	// (fixed.MarginPrecision units: 200 = 2%)
	LiquidationMarginBufferRatio uint32

	// InterestAccrualInterval is how often every pool's interest is settled
	InterestAccrualInterval time.Duration

	// RecentLiquidations is how many records the API serves
	RecentLiquidations int
}

type Config struct {
	Storage Storage
	Log     Log
	API     API
	Risk    Risk
}

func Default() Config {
	return Config{
		Storage: Storage{DBPath: "data/risk"},
		Log:     Log{Level: "info"},
		API: API{
			Addr:               ":8080",
			CORSAllowedOrigins: []string{"*"},
		},
		Risk: Risk{
			LiquidationMarginBufferRatio: 200,
			InterestAccrualInterval:      time.Second,
			RecentLiquidations:           100,
		},
	}
}

// Validate rejects settings the engine cannot run with
func (c Config) Validate() error {
	if c.Risk.LiquidationMarginBufferRatio > fixed.MaximumMarginRatio {
		return fmt.Errorf("liquidation margin buffer ratio %d exceeds %d",
			c.Risk.LiquidationMarginBufferRatio, fixed.MaximumMarginRatio)
	}
	if c.Risk.InterestAccrualInterval <= 0 {
		return fmt.Errorf("interest accrual interval must be positive")
	}
	if c.Risk.RecentLiquidations <= 0 {
		return fmt.Errorf("recent liquidations limit must be positive")
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api address cannot be empty")
	}
	return nil
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v, ok := os.LookupEnv("RISK_DB_PATH"); ok {
		cfg.Storage.DBPath = v
	}
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.CORSAllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.API.CORSAllowedOrigins = append(cfg.API.CORSAllowedOrigins, o)
			}
		}
	}

	if buffer := os.Getenv("LIQUIDATION_MARGIN_BUFFER_RATIO"); buffer != "" {
		v, err := strconv.ParseUint(buffer, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("LIQUIDATION_MARGIN_BUFFER_RATIO: %w", err)
		}
		cfg.Risk.LiquidationMarginBufferRatio = uint32(v)
	}
	if interval := os.Getenv("INTEREST_ACCRUAL_INTERVAL_MS"); interval != "" {
		ms, err := strconv.Atoi(interval)
		if err != nil {
			return Config{}, fmt.Errorf("INTEREST_ACCRUAL_INTERVAL_MS: %w", err)
		}
		cfg.Risk.InterestAccrualInterval = time.Duration(ms) * time.Millisecond
	}
	if limit := os.Getenv("RECENT_LIQUIDATIONS"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			return Config{}, fmt.Errorf("RECENT_LIQUIDATIONS: %w", err)
		}
		cfg.Risk.RecentLiquidations = n
	}

	return cfg, cfg.Validate()
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
