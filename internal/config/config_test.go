package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Nil(t, cfg)

	// Empty path means "best effort": defaults when nothing is found.
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	require.NoError(t, os.Chdir(t.TempDir()))

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Scanner.BatchSize)
	assert.Equal(t, 0.30, cfg.Market.TopFraction)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scanner:
  batch_size: 25
  workers: 4
  symbol_timeout: 10s
providers:
  eastmoney:
    max_per_minute: 60
    initial_interval: 500ms
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Scanner.BatchSize)
	assert.Equal(t, 4, cfg.Scanner.Workers)
	assert.Equal(t, 10*time.Second, cfg.Scanner.SymbolTimeout.Std())
	assert.Equal(t, 60, cfg.Providers["eastmoney"].MaxPerMinute)
	assert.Equal(t, 500*time.Millisecond, cfg.Providers["eastmoney"].InitialInterval.Std())

	// Untouched sections keep their defaults.
	assert.Equal(t, "1y", cfg.Scanner.Period)
	assert.Equal(t, 9.8, cfg.Market.LimitUpThreshold)
	assert.Equal(t, 0.02, cfg.Scorer.DivergencePriceTol)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Scanner.Workers = 7
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Scanner.Workers)
}
