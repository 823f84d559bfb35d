package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server and worker
type Config struct {
	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration
	Redis RedisConfig

	// HTTP Configuration
	HTTP HTTPConfig

	// Token Configuration
	Auth AuthConfig

	// Background jobs
	Worker WorkerConfig

	// Logging Configuration
	Logging LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
}

// HTTPConfig holds listener and browser-facing settings
type HTTPConfig struct {
	Addr         string
	CORSOrigins  []string
	CookieSecure bool
}

// AuthConfig holds token settings
type AuthConfig struct {
	// JWTSecret signs access tokens. Empty means the secret persisted in the
	// database is used, generated on first start.
	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
}

// WorkerConfig holds background job settings
type WorkerConfig struct {
	CleanupSchedule string // Cron expression
	FrontendURL     string // Base URL for links in emails
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	tokenTTL, err := durationEnv("TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	resetTTL, err := durationEnv("RESET_TOKEN_TTL", time.Hour)
	if err != nil {
		return nil, err
	}

	cookieSecure, err := boolEnv("COOKIE_SECURE", false)
	if err != nil {
		return nil, err
	}

	return &Config{
		Database: DatabaseConfig{
			URL: stringEnv("DATABASE_URL", "authsession.sqlite"),
		},
		Redis: RedisConfig{
			Address: stringEnv("REDIS_ADDRESS", "localhost:6379"),
		},
		HTTP: HTTPConfig{
			Addr:         stringEnv("HTTP_ADDR", ":8000"),
			CORSOrigins:  listEnv("CORS_ORIGINS", []string{"http://localhost:5173"}),
			CookieSecure: cookieSecure,
		},
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			TokenTTL:      tokenTTL,
			ResetTokenTTL: resetTTL,
		},
		Worker: WorkerConfig{
			CleanupSchedule: stringEnv("CLEANUP_SCHEDULE", "@every 1h"),
			FrontendURL:     strings.TrimRight(stringEnv("FRONTEND_URL", "http://localhost:5173"), "/"),
		},
		Logging: LoggingConfig{
			Level:  stringEnv("LOG_LEVEL", "info"),
			Format: stringEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func listEnv(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
