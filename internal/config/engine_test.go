package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfigIsValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, ValidateEngineConfig(cfg))
	assert.Equal(t, 5*time.Minute, cfg.Delivery.RetryCooldown)
	assert.Equal(t, 3, cfg.Delivery.DefaultMaxRetries)
	assert.Equal(t, 90, cfg.Analytics.RetentionDays)
}

func TestValidateEngineConfigRejectsBadValues(t *testing.T) {
	cases := map[string]func(*EngineConfig){
		"cooldown":  func(c *EngineConfig) { c.Delivery.RetryCooldown = 0 },
		"retention": func(c *EngineConfig) { c.Analytics.RetentionDays = 0 },
		"cache_ttl": func(c *EngineConfig) { c.ProviderCache.TTL = -time.Second },
		"health":    func(c *EngineConfig) { c.Health.DegradedRate = 99 },
		"cron":      func(c *EngineConfig) { c.Schedules.Retention = "every tuesday" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			mutate(&cfg)
			assert.Error(t, ValidateEngineConfig(cfg))
		})
	}
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Delivery.DefaultMaxRetries = 7
	holder := NewStaticEngineConfigHolder(cfg)
	assert.Equal(t, 7, holder.Get().Delivery.DefaultMaxRetries)

	var nilHolder *EngineConfigHolder
	assert.Equal(t, DefaultEngineConfig(), nilHolder.Get())
}
