// Package config loads runtime configuration from the environment. A .env
// file, when present, is loaded first via godotenv; real environment
// variables always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the service.
type Config struct {
	DatabaseURL string

	ServerPort     string
	AllowedOrigins string // comma-separated; empty disables CORS

	// Fiscal gateway.
	FiscalBaseURL string
	FiscalToken   string
	FiscalCUIT    string
	FiscalTimeout time.Duration
	PointOfSale   int

	LogLevel  string // trace|debug|info|warn|error
	LogFormat string // "console" or "json"
}

// Load reads configuration from the environment, applying defaults for
// everything except DATABASE_URL, which is required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		FiscalBaseURL:  getEnv("FISCAL_BASE_URL", "http://localhost:9090"),
		FiscalToken:    os.Getenv("FISCAL_TOKEN"),
		FiscalCUIT:     os.Getenv("FISCAL_CUIT"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}

	pos, err := getEnvInt("POINT_OF_SALE", 1)
	if err != nil {
		return nil, err
	}
	if pos <= 0 {
		return nil, fmt.Errorf("POINT_OF_SALE must be positive, got %d", pos)
	}
	cfg.PointOfSale = pos

	timeoutSecs, err := getEnvInt("FISCAL_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.FiscalTimeout = time.Duration(timeoutSecs) * time.Second

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
