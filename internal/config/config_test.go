package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	require.Equal(t, 8*time.Second, cfg.Fetcher.Timeout)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, []string{"1m", "5m", "15m", "1h"}, cfg.Analysis.Timeframes)
	require.Equal(t, []string{"NIFTY", "BANKNIFTY", "SENSEX"}, cfg.Symbols)
	require.Equal(t, map[string]string{"app": "test", "env": "development"}, cfg.Logging.Fields)
}

func TestLoadNormalizesSymbolMaps(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
symbols: [nifty, spx]
fetcher:
  order: [Yahoo]
providers:
  yahoo:
    symbols:
      NIFTY: "^NSEI"
`))
	require.NoError(t, err)
	require.Equal(t, []string{"NIFTY", "SPX"}, cfg.Symbols)
	require.Equal(t, []string{"yahoo"}, cfg.Fetcher.Order)
	require.Equal(t, "^NSEI", cfg.Providers.Yahoo.Symbols["NIFTY"])
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  driver: mongo\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "storage:\n  driver: postgres\n"))
	require.ErrorContains(t, err, "storage.dsn")

	_, err = Load(writeConfig(t, "fetcher:\n  order: [nosuch]\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "alerting:\n  telegram:\n    enabled: true\n"))
	require.ErrorContains(t, err, "bot_token")
}

func TestValidateAnalysisWindow(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)
	require.Zero(t, cfg.Analysis.Window, "默认自动计算窗口")

	_, err = Load(writeConfig(t, "analysis:\n  window: 500\n"))
	require.ErrorContains(t, err, "need at least 612")

	cfg, err = Load(writeConfig(t, "analysis:\n  window: 612\n"))
	require.NoError(t, err)
	require.Equal(t, 612, cfg.Analysis.Window)

	_, err = Load(writeConfig(t, "scheduler:\n  interval: 1m\nanalysis:\n  window: 60\n  timeframes: [5m, 1m]\n"))
	require.NoError(t, err)

	_, err = Load(writeConfig(t, "analysis:\n  timeframes: [bogus]\n"))
	require.ErrorContains(t, err, "analysis.timeframes")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MARKETPULSE_STORAGE_DRIVER", "sqlite")
	cfg, err := Load(writeConfig(t, "app:\n  name: env\n"))
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 10}}
	require.Equal(t, 10, cfg.ResolveMaxPoints(0))
	require.Equal(t, 3, cfg.ResolveMaxPoints(3))
}
