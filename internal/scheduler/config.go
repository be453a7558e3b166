package scheduler

import (
	"time"
)

const (
	JobRetrySweep     = "webhook_retry_sweep"
	JobRetention      = "analytics_retention"
	JobProviderHealth = "provider_health"
)

// Config controls job timeouts, lock leases and which jobs this process
// runs. Cron specs are read from the engine configuration.
type Config struct {
	JobTimeout  time.Duration
	LockTTL     time.Duration
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		JobTimeout: 30 * time.Second,
		LockTTL:    2 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout
	}
	return c
}
