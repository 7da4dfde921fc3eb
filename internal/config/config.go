package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration, loaded from environment variables
// (typically via a .env file) with sensible defaults for local development.
type Config struct {
	// HTTP server
	ListenAddr string
	CORSOrigin string

	// Response cache
	CacheTTL time.Duration

	// Logging
	LogLevel  string
	LogPretty bool
	LogToFile bool
	LogDir    string
	LogFile   string

	// Data providers
	EnableTimescale    bool
	PostgresHost       string
	PostgresPort       string
	PostgresUser       string
	PostgresPassword   string
	PostgresDB         string
	AlphaVantageAPIKey string
	EnableSynthetic    bool

	// Baseline engine defaults
	PivotWindow   int
	ATRPeriod     int
	ATRMultiplier float64
	MaxZones      int

	// Institutional engine defaults
	MinTouches        int
	MinReactionATR    float64
	VolumePercentile  float64
	MaxLevels         int
	MergeToleranceATR float64
}

// Load reads configuration from the environment
func Load() Config {
	return Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8000"),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		CacheTTL: time.Duration(getEnvInt("CACHE_TTL_SECONDS", 300)) * time.Second,

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvBool("LOG_PRETTY", true),
		LogToFile: getEnvBool("LOG_TO_FILE", false),
		LogDir:    getEnv("LOG_DIR", "logs"),
		LogFile:   getEnv("LOG_FILE", "keylevels.log"),

		EnableTimescale:    getEnvBool("ENABLE_TIMESCALE", false),
		PostgresHost:       getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:       getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:       getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword:   getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:         getEnv("POSTGRES_DB", "keylevels"),
		AlphaVantageAPIKey: getEnv("ALPHA_VANTAGE_API_KEY", ""),
		EnableSynthetic:    getEnvBool("ENABLE_SYNTHETIC", true),

		PivotWindow:   getEnvInt("PIVOT_WINDOW", 3),
		ATRPeriod:     getEnvInt("ATR_PERIOD", 14),
		ATRMultiplier: getEnvFloat("ATR_MULTIPLIER", 0.3),
		MaxZones:      getEnvInt("MAX_ZONES", 6),

		MinTouches:        getEnvInt("MIN_TOUCHES", 2),
		MinReactionATR:    getEnvFloat("MIN_REACTION_ATR", 1.5),
		VolumePercentile:  getEnvFloat("VOLUME_THRESHOLD_PERCENTILE", 70),
		MaxLevels:         getEnvInt("MAX_LEVELS", 7),
		MergeToleranceATR: getEnvFloat("MERGE_TOLERANCE_ATR", 0.5),
	}
}

// PostgresConnString builds the lib/pq connection string
func (c Config) PostgresConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB)
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
