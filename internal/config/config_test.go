package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/domain/run"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"WORKERS", "ON_ERROR", "FALLBACK_UNIT_COST", "DEFAULT_TIMEZONE", "LANE_LOCK_TTL", "SALE_PREDICATE", "OUTBOX_BATCH_SIZE", "OUTBOX_STREAM"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, run.OnErrorSkip, cfg.OnError)
	assert.True(t, cfg.FallbackUnitCost.IsZero())
	assert.Equal(t, 15*time.Minute, cfg.LaneLockTTL)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, "costengine:events", cfg.OutboxStream)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKERS", "8")
	t.Setenv("ON_ERROR", "fail")
	t.Setenv("FALLBACK_UNIT_COST", "1.25")
	t.Setenv("DEFAULT_TIMEZONE", "Asia/Jakarta")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, run.OnErrorFail, cfg.OnError)
	assert.Equal(t, "1.25", cfg.FallbackUnitCost.String())
	assert.Equal(t, "Asia/Jakarta", cfg.Location().String())
	assert.Equal(t, 8, cfg.Engine().Workers)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"policy":   {"ON_ERROR", "explode"},
		"cost":     {"FALLBACK_UNIT_COST", "abc"},
		"negative": {"FALLBACK_UNIT_COST", "-1"},
		"timezone": {"DEFAULT_TIMEZONE", "Mars/Olympus"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
