package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"fsanano/marketplace/internal/repository"
)

type Config struct {
	SessionAddr string
	SidecarAddr string
	DataDir     string
	// HTTPAddr enables the operations endpoint when set.
	HTTPAddr string
	// DatabaseURL moves balances and transactions into Postgres when set.
	DatabaseURL string

	BlobCompression repository.Compression
	LogLevel        string
	StartingBalance decimal.Decimal
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func Load() (*Config, error) {
	// Load .env file if it exists (useful for local dev)
	_ = godotenv.Load()

	cfg := &Config{
		SessionAddr:     getenv("SESSION_ADDR", ":8881"),
		SidecarAddr:     getenv("SIDECAR_ADDR", ":8882"),
		DataDir:         getenv("DATA_DIR", "data"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		BlobCompression: repository.Compression(getenv("BLOB_COMPRESSION", string(repository.CompressionNone))),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	balance, err := decimal.NewFromString(getenv("STARTING_BALANCE", "100.00"))
	if err != nil {
		return nil, fmt.Errorf("STARTING_BALANCE: %w", err)
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("STARTING_BALANCE must not be negative")
	}
	cfg.StartingBalance = balance

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BindFlags registers command-line overrides for the listener, storage and log settings.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.SessionAddr, "session-addr", c.SessionAddr, "session listener address")
	fs.StringVar(&c.SidecarAddr, "sidecar-addr", c.SidecarAddr, "image transfer listener address")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory holding the marketplace records")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "operations endpoint address (empty disables it)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
}

func (c *Config) Validate() error {
	switch c.BlobCompression {
	case repository.CompressionNone, repository.CompressionBrotli:
	default:
		return fmt.Errorf("BLOB_COMPRESSION must be none or brotli, got %q", c.BlobCompression)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.SessionAddr == "" || c.SidecarAddr == "" {
		return fmt.Errorf("session and sidecar addresses must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must be set")
	}
	return nil
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
