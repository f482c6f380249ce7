// Package config loads service settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Defaults for unset variables.
const (
	DefaultDatabaseDriver = "sqlite"
	DefaultDatabaseURL    = "carinsurance.db"
	DefaultHTTPAddr       = ":8080"
	DefaultLogLevel       = "info"
	DefaultEnvironment    = "development"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	DatabaseDriver string
	DatabaseURL    string
	HTTPAddr       string
	LogLevel       string
	Environment    string

	// SeedData inserts demo data into an empty database on start.
	SeedData bool

	// Telegram forwarding is enabled when both are set.
	TelegramToken  string
	TelegramChatID int64

	CORSOrigins []string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables that are already set, and a
	// missing .env file is not an error here.
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds the configuration from lookup, usually os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (*AppConfig, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &AppConfig{
		DatabaseDriver: strings.ToLower(get("DATABASE_DRIVER", DefaultDatabaseDriver)),
		DatabaseURL:    get("DATABASE_URL", DefaultDatabaseURL),
		HTTPAddr:       get("HTTP_ADDR", DefaultHTTPAddr),
		LogLevel:       strings.ToLower(get("LOG_LEVEL", DefaultLogLevel)),
		Environment:    strings.ToLower(get("ENVIRONMENT", DefaultEnvironment)),
		TelegramToken:  get("TELEGRAM_TOKEN", ""),
	}

	var err error
	if cfg.SeedData, err = strconv.ParseBool(get("SEED_DATA", "true")); err != nil {
		return nil, fmt.Errorf("invalid SEED_DATA: %w", err)
	}

	if chatID := get("TELEGRAM_CHAT_ID", ""); chatID != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(chatID, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
	}
	if (cfg.TelegramToken == "") != (cfg.TelegramChatID == 0) {
		return nil, fmt.Errorf("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if origins := get("CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg, nil
}

// TelegramEnabled reports whether expirations are forwarded to Telegram.
func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
