package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, GetConfig(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbsynth.yaml")
	content := `
database:
  dialect: mysql
  host: db.internal
  port: 3306
synthesizer:
  default_distribution: norm
  numerical_distributions:
    amount: gamma
  transformers:
    country: OneHotEncoder
sampling:
  num_rows: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("DBSYNTH_DATABASE_HOST", "override.internal")
	t.Setenv("DBSYNTH_LOGGING_LEVEL", "debug")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Dialect)
	assert.Equal(t, "override.internal", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "norm", cfg.Synthesizer.DefaultDistribution)
	assert.Equal(t, map[string]string{"amount": "gamma"}, cfg.Synthesizer.NumericalDistributions)
	assert.Equal(t, map[string]string{"country": "OneHotEncoder"}, cfg.Synthesizer.Transformers)
	assert.True(t, cfg.Synthesizer.EnforceRounding)
	assert.Equal(t, 25, cfg.Sampling.NumRows)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestCurrent(t *testing.T) {
	defer SetConfig(nil)
	SetConfig(nil)
	assert.Equal(t, GetConfig(), Current())

	cfg := GetConfig()
	cfg.GeminiAPIKey = "k"
	SetConfig(cfg)
	assert.Same(t, cfg, Current())
}
