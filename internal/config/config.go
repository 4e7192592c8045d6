package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the crawler.
type Config struct {
	Env         string
	DatabaseURL string // postgres; when empty, SQLitePath is used instead
	SQLitePath  string
	RedisURL    string // optional live fan-out
	OpsPort     string

	// Gateway connection
	GatewayHost    string
	GatewayPortMin int
	GatewayPortMax int

	// Session identity sent on login
	Username string
	UID      string

	// Crawl behavior
	EventType         string // STT "type" value to persist
	TablePrefix       string
	RoomsTable        string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on a missing database URL.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Env:               getEnv("ENV", "development"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", "./data/barrage.db"),
		RedisURL:          os.Getenv("REDIS_URL"),
		OpsPort:           getEnv("OPS_PORT", "9090"),
		GatewayHost:       getEnv("GATEWAY_HOST", "danmuproxy.douyu.com"),
		GatewayPortMin:    getEnvInt("GATEWAY_PORT_MIN", 8502),
		GatewayPortMax:    getEnvInt("GATEWAY_PORT_MAX", 8506),
		Username:          getEnv("GATEWAY_USERNAME", "0"),
		UID:               getEnv("GATEWAY_UID", "0"),
		EventType:         getEnv("EVENT_TYPE", "chatmsg"),
		RoomsTable:        getEnv("ROOMS_TABLE", "room"),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 60*time.Second),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 10*time.Second),
	}
	cfg.TablePrefix = getEnv("TABLE_PREFIX", cfg.EventType)

	// In production, require an explicit database
	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// bare numbers are seconds
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}
