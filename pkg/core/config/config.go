// Package config collects environment-provided settings for the sync
// pipeline and the assistant.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full runtime configuration. Everything comes from the
// environment; .env loading happens in main via godotenv.
type Config struct {
	// Document store.
	MongoURI      string
	MongoDatabase string

	// Market-data source.
	EODHDToken     string
	Exchange       string
	ExchangeSuffix string
	ExchangeTZ     string

	// Analytical store.
	BQProjectID       string
	BQDataset         string
	BQCredentialsJSON string // service-account key blob; empty means ADC

	// Chat subsystem.
	OpenRouterAPIKey string
	GeminiAPIKey     string
	ChatModels       []string // fallback order for the OpenRouter provider
	GeminiModel      string

	TickerFile string
}

// Load reads the configuration from the environment, applying defaults for
// everything that has a sensible one.
func Load() *Config {
	return &Config{
		MongoURI:          os.Getenv("MONGODB_URI"),
		MongoDatabase:     envOr("MONGODB_DATABASE", "financials"),
		EODHDToken:        os.Getenv("EODHD_API_TOKEN"),
		Exchange:          envOr("EXCHANGE", "US"),
		ExchangeSuffix:    envOr("EXCHANGE_SUFFIX", "US"),
		ExchangeTZ:        envOr("EXCHANGE_TZ", "America/New_York"),
		BQProjectID:       os.Getenv("BQ_PROJECT_ID"),
		BQDataset:         envOr("BQ_DATASET", "financials"),
		BQCredentialsJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		ChatModels:        splitList(envOr("CHAT_MODELS", "openai/gpt-4o-mini,anthropic/claude-3.5-haiku")),
		GeminiModel:       envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		TickerFile:        envOr("TICKER_FILE", "tickers.csv"),
	}
}

// ValidatePipeline checks the settings the sync pipeline cannot run without.
func (c *Config) ValidatePipeline() error {
	var missing []string
	if c.MongoURI == "" {
		missing = append(missing, "MONGODB_URI")
	}
	if c.EODHDToken == "" {
		missing = append(missing, "EODHD_API_TOKEN")
	}
	if c.BQProjectID == "" {
		missing = append(missing, "BQ_PROJECT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Location resolves the exchange time zone used to anchor record dates.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ExchangeTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid exchange time zone %q: %w", c.ExchangeTZ, err)
	}
	return loc, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
