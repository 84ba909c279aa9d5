package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for a coordinator or chat node process.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string
	SQLitePath  string

	// Coordinator: health tracking
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
	DegradedLoadRatio float64

	// Coordinator: registration
	NodeAutoApprove bool
	AdminToken      string

	// Chat node: identity and coordinator endpoint
	CoordinatorURL string
	NodeName       string
	NodeURL        string
	MaxRooms       int

	// Chat node: background work
	HeartbeatInterval   time.Duration
	SyncSchedule        string
	SyncChangeThreshold int64
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", ""),

		HeartbeatTimeout:  getDuration("HEARTBEAT_TIMEOUT", 90*time.Second),
		SweepInterval:     getDuration("SWEEP_INTERVAL", 15*time.Second),
		DegradedLoadRatio: getFloat("DEGRADED_LOAD_RATIO", 0.90),

		NodeAutoApprove: getEnv("NODE_AUTO_APPROVE", "false") == "true",
		AdminToken:      os.Getenv("ADMIN_TOKEN"),

		CoordinatorURL: getEnv("COORDINATOR_URL", "http://localhost:8080"),
		NodeName:       os.Getenv("NODE_NAME"),
		NodeURL:        os.Getenv("NODE_URL"),
		MaxRooms:       getInt("MAX_ROOMS", 50),

		HeartbeatInterval:   getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		SyncSchedule:        getEnv("SYNC_SCHEDULE", "@every 5m"),
		SyncChangeThreshold: int64(getInt("SYNC_CHANGE_THRESHOLD", 100)),
	}

	// In production the coordinator needs durable storage.
	if cfg.Env == "production" && cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		panic("DATABASE_URL or SQLITE_PATH is required in production")
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

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
