package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.CooldownMinutes)
	assert.Equal(t, 3, cfg.MaxPerDay)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.True(t, cfg.FallbackEnabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nudge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_root: /var/lib/nudge
cooldown_minutes: 60
store: sqlite
fallback_enabled: false
`), 0o644))
	t.Setenv("NUDGE_COOLDOWN_MINUTES", "15")
	t.Setenv("NUDGE_MAX_PER_DAY", "not-a-number")
	t.Setenv("NUDGE_TRACE_INDEX", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nudge", cfg.StateRoot)
	assert.Equal(t, 15, cfg.CooldownMinutes)
	assert.Equal(t, 3, cfg.MaxPerDay)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.False(t, cfg.FallbackEnabled)
	assert.True(t, cfg.TraceIndex)
	assert.Equal(t, 15, cfg.Limits().CooldownMinutes)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("NUDGE_STORE", "redis")
	t.Setenv("NUDGE_MAX_PER_DAY", "-1")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store must be")
	assert.Contains(t, err.Error(), "max_per_day")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
