package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BATCH_SIZE", "")
	t.Setenv("COOLDOWN", "")
	t.Setenv("BLOCKED_PHRASES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Cooldown)
	assert.Equal(t, 4, cfg.ReputationPerMinute)
	assert.Equal(t, "1920x1080", cfg.Resolution)
	assert.Equal(t, DefaultBlockedPhrases, cfg.BlockedPhrases)
	assert.True(t, cfg.ReputationSubmit)
	assert.Equal(t, time.Hour, cfg.WatchInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("COOLDOWN", "1500ms")
	t.Setenv("BLOCKED_PHRASES", "Blocked | Stop here|")
	t.Setenv("REPUTATION_SUBMIT_UNKNOWN", "false")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, cfg.Cooldown)
	assert.Equal(t, []string{"Blocked", "Stop here"}, cfg.BlockedPhrases)
	assert.False(t, cfg.ReputationSubmit)
	assert.Equal(t, 2, cfg.RedisDB)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BATCH_SIZE", "many")
	t.Setenv("COOLDOWN", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Cooldown)
}

func TestValidate(t *testing.T) {
	cfg := Config{BatchSize: 0, Cooldown: -time.Second, ReputationPerMinute: 4}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
	assert.Contains(t, err.Error(), "COOLDOWN")

	cfg = Config{BatchSize: 1, ReputationPerMinute: 1, WatchInterval: time.Minute}
	assert.NoError(t, cfg.Validate())
}
