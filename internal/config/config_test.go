package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "marketdata", cfg.App.Name)
	require.Equal(t, "localhost:6379", cfg.Redis.Addr)
	require.Equal(t, 30*time.Second, cfg.Stream.TickTTL)
	require.Equal(t, 100, cfg.Stream.HistoryLimit)
	require.Equal(t, 21, cfg.Stream.Instruments["EUR-USD"])
	require.Equal(t, time.Second, cfg.Supervisor.InitialBackoff)
	require.Equal(t, 16*time.Second, cfg.Supervisor.MaxBackoff)
	require.Equal(t, 10, cfg.Supervisor.MaxRestarts)
	require.Equal(t, 10*time.Minute, cfg.OAuth.StateTTL)
	require.Equal(t, 5*time.Minute, cfg.OAuth.StoreTTLBuffer)
	require.False(t, cfg.OAuth.AllowMissingState)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
redis:
  addr: redis.internal:6380
stream:
  tick_ttl: 45s
  instruments:
    EUR-USD: 21
supervisor:
  max_restarts: 5
oauth:
  allow_missing_state: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	require.Equal(t, 45*time.Second, cfg.Stream.TickTTL)
	require.Equal(t, 5, cfg.Supervisor.MaxRestarts)
	require.True(t, cfg.OAuth.AllowMissingState)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Stream.Instruments = nil
	require.Error(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Supervisor.MaxBackoff = cfg.Supervisor.InitialBackoff / 2
	require.Error(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Database.Enabled = true
	cfg.Database.DSN = ""
	require.Error(t, cfg.Validate())

	cfg, err = Load("")
	require.NoError(t, err)
	cfg.Alerting.Telegram.Enabled = true
	require.Error(t, cfg.Validate())
}
