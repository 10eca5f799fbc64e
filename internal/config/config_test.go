package config

import (
	"log/slog"
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsanano/marketplace/internal/repository"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"SESSION_ADDR", "SIDECAR_ADDR", "DATA_DIR", "HTTP_ADDR", "DATABASE_URL", "BLOB_COMPRESSION", "LOG_LEVEL", "STARTING_BALANCE"} {
		t.Setenv(key, "")
	}
	// keep a developer's .env out of the picture
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8881", cfg.SessionAddr)
	assert.Equal(t, ":8882", cfg.SidecarAddr)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, repository.CompressionNone, cfg.BlobCompression)
	assert.Equal(t, "100.00", cfg.StartingBalance.StringFixed(2))

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoad_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_ADDR", "127.0.0.1:9000")
	t.Setenv("BLOB_COMPRESSION", "brotli")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STARTING_BALANCE", "250.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.SessionAddr)
	assert.Equal(t, repository.CompressionBrotli, cfg.BlobCompression)
	assert.Equal(t, "250.50", cfg.StartingBalance.StringFixed(2))
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"BLOB_COMPRESSION", "zip"},
		{"LOG_LEVEL", "loud"},
		{"STARTING_BALANCE", "lots"},
		{"STARTING_BALANCE", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestBindFlags_OverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/var/lib/market")

	cfg, err := Load()
	require.NoError(t, err)

	fs := pflag.NewFlagSet("marketd", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--data-dir", "/tmp/market", "--log-level", "warn", "--http-addr", ":9090"}))

	assert.Equal(t, "/tmp/market", cfg.DataDir)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, ":8881", cfg.SessionAddr)
	require.NoError(t, cfg.Validate())
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}
