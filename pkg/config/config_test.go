package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaultsKeepAutoSendOff(t *testing.T) {
	t.Setenv("AUTO_SEND_ENABLED", "")
	t.Setenv("AUTO_SEND_CATEGORIES", "")

	cfg := Load()

	assert.False(t, cfg.AutoSendEnabled)
	assert.Empty(t, cfg.AutoSendCategories)
	assert.True(t, cfg.AutoCreateDrafts)
	assert.Equal(t, 0.85, cfg.AutoSendThreshold)
	assert.Equal(t, 3, cfg.ProviderMaxAttempts)
}

func TestLoadParsesTypedValues(t *testing.T) {
	t.Setenv("AUTO_SEND_ENABLED", "true")
	t.Setenv("AUTO_SEND_THRESHOLD", "0.9")
	t.Setenv("AUTO_SEND_CATEGORIES", " scheduling, ,thanks ")
	t.Setenv("HISTORY_LOOKBACK", "24h")
	t.Setenv("PROVIDER_MAX_ATTEMPTS", "not-a-number")

	cfg := Load()

	assert.True(t, cfg.AutoSendEnabled)
	assert.Equal(t, 0.9, cfg.AutoSendThreshold)
	assert.Equal(t, []string{"scheduling", "thanks"}, cfg.AutoSendCategories)
	assert.Equal(t, 24*time.Hour, cfg.HistoryLookback)
	assert.Equal(t, 3, cfg.ProviderMaxAttempts)
}
