package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `json:"server"`
	Indexer   IndexerConfig   `json:"indexer"`
	Quote     QuoteConfig     `json:"quote"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Snapshot  SnapshotConfig  `json:"snapshot"`
	Logging   LoggingConfig   `json:"logging"`
	CORS      CORSConfig      `json:"cors"`
	Assets    []Asset         `json:"assets"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// IndexerConfig holds the Aptos indexer GraphQL configuration
type IndexerConfig struct {
	Endpoint     string        `json:"endpoint"`
	APIKey       string        `json:"-"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	InitialDelay time.Duration `json:"initial_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// QuoteConfig holds the CoinMarketCap quote proxy configuration
type QuoteConfig struct {
	Endpoint   string        `json:"endpoint"`
	APIKey     string        `json:"-"`
	Symbol     string        `json:"symbol"`
	Freshness  time.Duration `json:"freshness"`
	MinSpacing time.Duration `json:"min_spacing"`
	Timeout    time.Duration `json:"timeout"`
}

// CacheConfig holds supply cache configuration
type CacheConfig struct {
	TTL             time.Duration `json:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	MaxSize         int           `json:"max_size"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	WindowLimit     int           `json:"window_limit"`
	Window          time.Duration `json:"window"`
	BurstLimit      int           `json:"burst_limit"`
	BurstWindow     time.Duration `json:"burst_window"`
	IdleDecayAfter  time.Duration `json:"idle_decay_after"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// SnapshotConfig holds last-known-good snapshot persistence configuration.
// An empty URI keeps snapshots in process memory only.
type SnapshotConfig struct {
	URI            string        `json:"-"`
	Database       string        `json:"database"`
	Collection     string        `json:"collection"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	MaxPoolSize    uint64        `json:"max_pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string   `json:"level"`
	Environment string   `json:"environment"`
	OutputPaths []string `json:"output_paths"`
	File        string   `json:"file"`
	MaxSizeMB   int      `json:"max_size_mb"`
	MaxAgeDays  int      `json:"max_age_days"`
	MaxBackups  int      `json:"max_backups"`
}

// CORSConfig holds the allowed dashboard origin
type CORSConfig struct {
	AllowOrigin string `json:"allow_origin"`
}

// Load reads an optional .env file and then builds the configuration,
// including the asset table from ASSETS_FILE when set
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := LoadConfig()

	assets, err := LoadAssets(getEnv("ASSETS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Assets = assets

	return cfg, nil
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Indexer: IndexerConfig{
			Endpoint:     getEnv("INDEXER_ENDPOINT", "https://api.mainnet.aptoslabs.com/v1/graphql"),
			APIKey:       getEnv("INDEXER_API_KEY", ""),
			Timeout:      getDurationEnv("INDEXER_TIMEOUT", 10*time.Second),
			MaxRetries:   getIntEnv("INDEXER_MAX_RETRIES", 2),
			InitialDelay: getDurationEnv("INDEXER_RETRY_DELAY", 500*time.Millisecond),
			Multiplier:   getFloatEnv("INDEXER_RETRY_MULTIPLIER", 1.5),
		},
		Quote: QuoteConfig{
			Endpoint:   getEnv("CMC_ENDPOINT", "https://pro-api.coinmarketcap.com"),
			APIKey:     getEnv("CMC_API_KEY", ""),
			Symbol:     getEnv("CMC_SYMBOL", "APT"),
			Freshness:  getDurationEnv("CMC_FRESHNESS", 5*time.Minute),
			MinSpacing: getDurationEnv("CMC_MIN_SPACING", 2*time.Second),
			Timeout:    getDurationEnv("CMC_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			TTL:             getDurationEnv("CACHE_TTL", 5*time.Minute),
			CleanupInterval: getDurationEnv("CACHE_CLEANUP_INTERVAL", 30*time.Second),
			MaxSize:         getIntEnv("CACHE_MAX_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			WindowLimit:     getIntEnv("RATE_LIMIT_WINDOW_LIMIT", 15),
			Window:          getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			BurstLimit:      getIntEnv("RATE_LIMIT_BURST_LIMIT", 10),
			BurstWindow:     getDurationEnv("RATE_LIMIT_BURST_WINDOW", 10*time.Second),
			IdleDecayAfter:  getDurationEnv("RATE_LIMIT_IDLE_DECAY_AFTER", 30*time.Second),
			CleanupInterval: getDurationEnv("RATE_LIMIT_CLEANUP_INTERVAL", 30*time.Second),
		},
		Snapshot: SnapshotConfig{
			URI:            getEnv("MONGODB_URI", ""),
			Database:       getEnv("MONGODB_DATABASE", "aptos_stables"),
			Collection:     getEnv("MONGODB_SNAPSHOT_COLLECTION", "supply_snapshots"),
			ConnectTimeout: getDurationEnv("MONGODB_CONNECT_TIMEOUT", 10*time.Second),
			MaxPoolSize:    getUint64Env("MONGODB_MAX_POOL_SIZE", 20),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("LOG_ENVIRONMENT", "development"),
			OutputPaths: getStringSliceEnv("LOG_OUTPUT_PATHS", []string{"stdout"}),
			File:        getEnv("LOG_FILE", ""),
			MaxSizeMB:   getIntEnv("LOG_MAX_SIZE_MB", 100),
			MaxAgeDays:  getIntEnv("LOG_MAX_AGE_DAYS", 7),
			MaxBackups:  getIntEnv("LOG_MAX_BACKUPS", 3),
		},
		CORS: CORSConfig{
			AllowOrigin: getEnv("CORS_ALLOW_ORIGIN", "*"),
		},
		Assets: DefaultAssets(),
	}
}

// Validate reports configuration that must stop the process at startup
func (c *Config) Validate() error {
	var problems []string

	if c.Quote.APIKey == "" {
		problems = append(problems, "CMC_API_KEY is required")
	}
	if len(c.Assets) == 0 {
		problems = append(problems, "asset table is empty")
	}
	if err := validateAssets(c.Assets); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Indexer.Endpoint == "" {
		problems = append(problems, "INDEXER_ENDPOINT is required")
	}
	if c.Cache.TTL <= 0 || c.Cache.MaxSize <= 0 {
		problems = append(problems, "cache TTL and max size must be positive")
	}
	if c.Cache.MaxSize < len(c.Assets) {
		problems = append(problems, "CACHE_MAX_SIZE must hold every configured asset")
	}
	if c.RateLimit.WindowLimit <= 0 || c.RateLimit.BurstLimit <= 0 {
		problems = append(problems, "rate limits must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.BurstWindow <= 0 {
		problems = append(problems, "rate limit windows must be positive")
	}
	if c.Cache.CleanupInterval <= 0 || c.RateLimit.CleanupInterval <= 0 {
		problems = append(problems, "cleanup intervals must be positive")
	}
	if c.Indexer.MaxRetries < 0 {
		problems = append(problems, "INDEXER_MAX_RETRIES cannot be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Address returns the host:port the HTTP server listens on
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getUint64Env(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uint64Value, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uint64Value
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
