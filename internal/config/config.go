package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	BaseURL       string // Issuer base, e.g. https://id.example.com
	DatabaseURL   string
	Port          string
	Env           string // development | production
	AdminAPIKey   string // Guards /admin routes; empty disables the admin API
	AdminUser     string // Bootstrap admin username (optional)
	AdminPassword string // Bootstrap admin password (optional)
	SentryDSN     string
	ThrottleTTL   time.Duration // Window for the IP rate limiter
	ThrottleLimit int           // Requests allowed per window per IP
}

// Load reads configuration from environment variables.
// Defaults are suitable for local development.
func Load() Config {
	return Config{
		BaseURL:       getEnv("BASE_URL", "http://localhost:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Port:          getEnv("PORT", "3000"),
		Env:           getEnv("APP_ENV", "development"),
		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		AdminUser:     os.Getenv("ADMIN_USER"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),
		ThrottleTTL:   time.Duration(getEnvAsInt("THROTTLE_TTL", 60)) * time.Second,
		ThrottleLimit: getEnvAsInt("THROTTLE_LIMIT", 100),
	}
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}
