package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port         string
	DatabasePath string
	LogLevel     string

	// Schema migrations
	MigrationsPath string

	// FX provider settings
	FxProviderBaseURL string
	FxRequestTimeout  time.Duration

	// HTTP settings
	RateLimitRPS        int
	RateLimitBurst      int
	CORSAllowedOrigins  []string
	RequestReadTimeout  time.Duration
	RequestWriteTimeout time.Duration
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
// It centralizes all configuration logic for the application.
func LoadConfig() {
	// 1. Try loading from the current directory (standard behavior)
	errEnv := godotenv.Load()

	// 2. If not found, try loading from the parent directory (common when running from /backend)
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}

	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found in current or parent directory. Relying on OS environment variables (expected in production).")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	Cfg = &AppConfig{
		// Core
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./acbfolio.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		// Migrations
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),

		// FX provider
		FxProviderBaseURL: getEnv("FX_PROVIDER_BASE_URL", "https://www.bankofcanada.ca/valet"),
		FxRequestTimeout:  getEnvAsDuration("FX_REQUEST_TIMEOUT", 10*time.Second),

		// HTTP
		RateLimitRPS:        getEnvAsInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:      getEnvAsInt("RATE_LIMIT_BURST", 30),
		CORSAllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		RequestReadTimeout:  getEnvAsDuration("REQUEST_READ_TIMEOUT", 15*time.Second),
		RequestWriteTimeout: getEnvAsDuration("REQUEST_WRITE_TIMEOUT", 15*time.Second),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, FxProvider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.FxProviderBaseURL)
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer or returns a fallback.
func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

// getEnvAsDuration retrieves an environment variable as a time.Duration or returns a fallback.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

// getEnvAsList retrieves and parses a comma-separated environment variable.
func getEnvAsList(key, fallback string) []string {
	valueStr := getEnv(key, fallback)
	if valueStr == "" {
		return []string{}
	}
	parts := strings.Split(valueStr, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
