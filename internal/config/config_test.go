package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxima/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 500, cfg.Analysis.DefaultMinCount)
	assert.Equal(t, 1000, cfg.Analysis.BootstrapDraws)
	assert.Equal(t, 0.05, cfg.Analysis.Alpha)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FRAGILITY_MIN_COUNT", "250")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 250, cfg.Analysis.DefaultMinCount)
	assert.Equal(t, 15*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("ALPHA", "1.5")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	t.Setenv("ALPHA", "0.05")
	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_SessionTTLFloor(t *testing.T) {
	t.Setenv("SESSION_TTL", "1ns")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	t.Setenv("SESSION_TTL", "1s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Session.TTL)
}

func TestLoad_BootstrapDrawCap(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100000, cfg.Analysis.MaxBootstrapDraws)

	t.Setenv("BOOTSTRAP_MAX_DRAWS", "500")
	_, err = Load()
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, "exp_id", p.ExpIDColumn)
	assert.Equal(t, "long_retained", p.Schema().LongTermMetric)

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exp_id_column: experiment
treatment_column: variant
long_term_metric: retained_90d
metrics: [sessions_7d, minutes_7d]
segment_keys: [country]
extra: []
`), 0o644))

	p, err = LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "experiment", p.ExpIDColumn)
	assert.Equal(t, []string{"sessions_7d", "minutes_7d"}, p.Schema().Metrics)
	assert.Equal(t, []string{"country"}, p.SegmentKeys)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("metrics: []\n"), 0o644))
	_, err = LoadProfile(bad)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
