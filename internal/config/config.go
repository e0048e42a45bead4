// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Thresholds holds the tunable heuristics of the valuation engine.
// The defaults mirror the values the engine was calibrated with; they are
// deliberately overridable rather than hardcoded at call sites.
type Thresholds struct {
	ShareStaleDays    int     // regulator shares older than this (vs as-of) are stale
	OutlierRatioMin   float64 // holding excluded when ratio > this ...
	OutlierWeightMax  float64 // ... and weight < this
	CoverageWarnBelow float64 // warn when included fund weight is below this
	MaxConcurrent     int64   // per-request bound on in-flight entity computations
}

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for the client-data cache database
	SECUserAgent     string // Required by the SEC fair-access policy, e.g. "app/0.1 (me@example.com)"
	AlphaVantageKey  string
	PolygonKey       string
	AlphaVantageURL  string
	PolygonURL       string
	LogLevel         string
	Port             int
	DevMode          bool
	AVCallsPerMinute int
	AVMaxRetries     int
	AVRetryDelay     time.Duration
	PrimaryLookback  int // days of price history requested from the primary provider
	FallbackLookback int // days of price history requested from the fallback provider
	Thresholds       Thresholds
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("CRI_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8000),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		SECUserAgent:     getEnv("SEC_USER_AGENT", ""),
		AlphaVantageKey:  getEnv("ALPHA_VANTAGE_API_KEY", ""),
		PolygonKey:       getEnv("POLYGON_API_KEY", ""),
		AlphaVantageURL:  getEnv("ALPHA_VANTAGE_BASE_URL", "https://www.alphavantage.co"),
		PolygonURL:       getEnv("POLYGON_BASE_URL", "https://api.polygon.io"),
		AVCallsPerMinute: getEnvAsInt("AV_CALLS_PER_MINUTE", 5),
		AVMaxRetries:     getEnvAsInt("AV_MAX_RETRIES", 3),
		AVRetryDelay:     time.Duration(getEnvAsInt("AV_RETRY_DELAY_SECONDS", 16)) * time.Second,
		PrimaryLookback:  getEnvAsInt("PRIMARY_PRICE_LOOKBACK_DAYS", 120),
		FallbackLookback: getEnvAsInt("FALLBACK_PRICE_LOOKBACK_DAYS", 60),
		Thresholds: Thresholds{
			ShareStaleDays:    getEnvAsInt("SHARE_STALE_DAYS", 540),
			OutlierRatioMin:   getEnvAsFloat("OUTLIER_RATIO_MIN", 1.0),
			OutlierWeightMax:  getEnvAsFloat("OUTLIER_WEIGHT_MAX", 0.02),
			CoverageWarnBelow: getEnvAsFloat("COVERAGE_WARN_BELOW", 0.95),
			MaxConcurrent:     int64(getEnvAsInt("MAX_CONCURRENT_COMPUTATIONS", 10)),
		},
	}

	return cfg, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
