package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "screening.db", cfg.Store.Path)
	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Queue.BaseDelay())
	assert.Equal(t, 30*time.Second, cfg.Queue.MaxDelay())
	assert.Equal(t, "exports", cfg.Export.Dir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("GPC_QUEUE_WORKERS", "8")
	t.Setenv("GPC_STORE_DRIVER", "postgres")
	t.Setenv("GPC_STORE_DATABASE_URL", "postgres://localhost:5432/screening")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost:5432/screening", cfg.Store.DatabaseURL)
}

func TestInitLogger_RejectsBadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouting", Format: "json"})
	require.Error(t, err)
}

func TestInitLogger_Console(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
}
