package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TOKEN_PUBLIC_KEY", "aa")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "all-MiniLM-L6-v2", cfg.ModelID)
	assert.Equal(t, 2000, cfg.MaxTextChars)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.Equal(t, 10000, cfg.L1CacheSize)
	assert.Equal(t, 7*24*time.Hour, cfg.L2CacheTTL)
	assert.Equal(t, 1024, cfg.CacheFillQueue)
	assert.Equal(t, 5*time.Minute, cfg.KeyCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.KeyCacheNegTTL)
	assert.Equal(t, 5*time.Second, cfg.UsageFlushEvery)
	assert.Equal(t, 10000, cfg.UsageBufferLimit)
}

func TestLoadRequiresPublicKey(t *testing.T) {
	t.Setenv("TOKEN_PUBLIC_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_PUBLIC_KEY")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TOKEN_PUBLIC_KEY", "aa")
	t.Setenv("MODEL_ID", "bge-small-en")
	t.Setenv("L1_CACHE_SIZE", "500")
	t.Setenv("L2_CACHE_TTL", "30m")
	t.Setenv("USAGE_FLUSH_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bge-small-en", cfg.ModelID)
	assert.Equal(t, 500, cfg.L1CacheSize)
	assert.Equal(t, 30*time.Minute, cfg.L2CacheTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.UsageFlushEvery)
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("TOKEN_PUBLIC_KEY", "aa")
	t.Setenv("MAX_TEXT_CHARS", "not-a-number")
	t.Setenv("L2_CACHE_TTL", "forever")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.MaxTextChars)
	assert.Equal(t, 7*24*time.Hour, cfg.L2CacheTTL)
}
