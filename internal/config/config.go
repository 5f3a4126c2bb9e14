// Package config provides configuration loading and management for the application.
//
// Configuration is read from the environment exactly once at startup and the
// resulting Config is passed by reference to every component; nothing reads
// ambient state at call sites.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// DataDir is where the price cache and asset snapshot are persisted
	DataDir string

	// RefreshInterval drives the background refresh scheduler
	RefreshInterval time.Duration

	// ProviderTimeout bounds each provider adapter's fetch
	ProviderTimeout time.Duration

	// Base URLs for the quote feeds, overridable for testing
	SinaURL    string
	TencentURL string
	FXRateURL  string
	GeckoURL   string

	// Gemini credentials for the AI search fallback. An empty key
	// short-circuits the adapter to an empty result.
	GeminiAPIKey string

	// GeminiBaseURL optionally routes AI traffic through a proxy; resolved
	// once per call, never via global patching
	GeminiBaseURL string

	// GeminiModel names the generative model used for search grounding
	GeminiModel string

	// EthRPCEndpoint enables the on-chain Chainlink feed reader when set
	EthRPCEndpoint string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// VisibleAssets is the user-selected subset rendered by the UI shell;
	// empty means all catalog assets
	VisibleAssets []string

	// FetchVisibleOnly narrows reconciliation to the visible subset
	// instead of the full catalog
	FetchVisibleOnly bool

	// MaxJumpRatio bounds the accepted relative change of a structured
	// quote against the previous price (plausibility filter)
	MaxJumpRatio float64

	// IndexTolerance is the relative difference under which two redundant
	// index quotes are averaged instead of preferring the primary
	IndexTolerance float64

	// BreakerFailures and BreakerCooldown configure the per-provider
	// circuit breaker
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Load creates a new Config from environment variables
func Load() Config {
	var visible []string
	if raw := os.Getenv("VISIBLE_ASSETS"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				visible = append(visible, id)
			}
		}
	}

	return Config{
		Port:             GetEnvOrDefault("PORT", "8080"),
		DataDir:          GetEnvOrDefault("DATA_DIR", "data"),
		RefreshInterval:  GetEnvAsDuration("REFRESH_INTERVAL", 5*time.Minute),
		ProviderTimeout:  GetEnvAsDuration("PROVIDER_TIMEOUT", 3*time.Second),
		SinaURL:          GetEnvOrDefault("SINA_URL", "https://hq.sinajs.cn"),
		TencentURL:       GetEnvOrDefault("TENCENT_URL", "https://qt.gtimg.cn"),
		FXRateURL:        GetEnvOrDefault("FX_RATE_URL", "https://open.er-api.com/v6/latest/USD"),
		GeckoURL:         GetEnvOrDefault("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    os.Getenv("GEMINI_BASE_URL"),
		GeminiModel:      GetEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		EthRPCEndpoint:   os.Getenv("ETH_RPC_ENDPOINT"),
		OtelEndpoint:     GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		VisibleAssets:    visible,
		FetchVisibleOnly: GetEnvAsBool("FETCH_VISIBLE_ONLY", false),
		MaxJumpRatio:     GetEnvAsFloat("MAX_JUMP_RATIO", 0.5),
		IndexTolerance:   GetEnvAsFloat("INDEX_TOLERANCE", 0.01),
		BreakerFailures:  GetEnvAsInt("BREAKER_FAILURES", 3),
		BreakerCooldown:  GetEnvAsDuration("BREAKER_COOLDOWN", 5*time.Minute),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
