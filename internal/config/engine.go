package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig is the runtime-editable surface of the routing engine:
// retry bounds, retention and cache lifetimes live here instead of in code.
type EngineConfig struct {
	Delivery      DeliveryConfig      `mapstructure:"delivery"`
	Analytics     AnalyticsConfig     `mapstructure:"analytics"`
	ProviderCache ProviderCacheConfig `mapstructure:"providerCache"`
	Health        HealthConfig        `mapstructure:"health"`
	Schedules     ScheduleConfig      `mapstructure:"schedules"`
}

type DeliveryConfig struct {
	RetryCooldown     time.Duration `mapstructure:"retryCooldown"`
	DefaultMaxRetries int           `mapstructure:"defaultMaxRetries"`
	SweepBatchSize    int           `mapstructure:"sweepBatchSize"`
}

type AnalyticsConfig struct {
	RetentionDays int `mapstructure:"retentionDays"`
}

type ProviderCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// HealthConfig drives provider health derivation from observed success rates.
type HealthConfig struct {
	Window       time.Duration `mapstructure:"window"`
	MinSamples   int           `mapstructure:"minSamples"`
	HealthyRate  float64       `mapstructure:"healthyRate"`
	DegradedRate float64       `mapstructure:"degradedRate"`
}

type ScheduleConfig struct {
	RetrySweep     string `mapstructure:"retrySweep"`
	Retention      string `mapstructure:"retention"`
	ProviderHealth string `mapstructure:"providerHealth"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Delivery: DeliveryConfig{
			RetryCooldown:     5 * time.Minute,
			DefaultMaxRetries: 3,
			SweepBatchSize:    100,
		},
		Analytics: AnalyticsConfig{
			RetentionDays: 90,
		},
		ProviderCache: ProviderCacheConfig{
			TTL: 30 * time.Second,
		},
		Health: HealthConfig{
			Window:       15 * time.Minute,
			MinSamples:   20,
			HealthyRate:  95,
			DegradedRate: 80,
		},
		Schedules: ScheduleConfig{
			RetrySweep:     "@every 1m",
			Retention:      "0 3 * * *",
			ProviderHealth: "@every 5m",
		},
	}
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder returns a holder that never reloads.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEngineConfigHolder(appCfg Config, log *zap.Logger) (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	if appCfg.EngineConfigPath != "" {
		v.AddConfigPath(appCfg.EngineConfigPath)
	}
	v.AddConfigPath("/etc/payrouter")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAYROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setEngineDefaults(v, DefaultEngineConfig())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticEngineConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	log = log.Named("config.engine")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Warn("engine config reload failed", zap.Error(err))
			return
		}
		if err := ValidateEngineConfig(updated); err != nil {
			log.Warn("invalid engine config ignored", zap.Error(err))
			return
		}
		holder.Set(updated)
		log.Info("engine config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	if h == nil {
		return DefaultEngineConfig()
	}
	return h.current.Load().(EngineConfig)
}

// Set replaces the active engine configuration.
func (h *EngineConfigHolder) Set(cfg EngineConfig) {
	h.current.Store(cfg)
}

func setEngineDefaults(v *viper.Viper, d EngineConfig) {
	v.SetDefault("engine.delivery.retryCooldown", d.Delivery.RetryCooldown)
	v.SetDefault("engine.delivery.defaultMaxRetries", d.Delivery.DefaultMaxRetries)
	v.SetDefault("engine.delivery.sweepBatchSize", d.Delivery.SweepBatchSize)
	v.SetDefault("engine.analytics.retentionDays", d.Analytics.RetentionDays)
	v.SetDefault("engine.providerCache.ttl", d.ProviderCache.TTL)
	v.SetDefault("engine.health.window", d.Health.Window)
	v.SetDefault("engine.health.minSamples", d.Health.MinSamples)
	v.SetDefault("engine.health.healthyRate", d.Health.HealthyRate)
	v.SetDefault("engine.health.degradedRate", d.Health.DegradedRate)
	v.SetDefault("engine.schedules.retrySweep", d.Schedules.RetrySweep)
	v.SetDefault("engine.schedules.retention", d.Schedules.Retention)
	v.SetDefault("engine.schedules.providerHealth", d.Schedules.ProviderHealth)
}

func ValidateEngineConfig(cfg EngineConfig) error {
	if cfg.Delivery.RetryCooldown <= 0 {
		return errors.New("engine.delivery.retryCooldown must be positive")
	}
	if cfg.Delivery.DefaultMaxRetries < 0 {
		return errors.New("engine.delivery.defaultMaxRetries cannot be negative")
	}
	if cfg.Delivery.SweepBatchSize <= 0 {
		return errors.New("engine.delivery.sweepBatchSize must be positive")
	}
	if cfg.Analytics.RetentionDays <= 0 {
		return errors.New("engine.analytics.retentionDays must be positive")
	}
	if cfg.ProviderCache.TTL <= 0 {
		return errors.New("engine.providerCache.ttl must be positive")
	}
	if cfg.Health.Window <= 0 {
		return errors.New("engine.health.window must be positive")
	}
	if cfg.Health.DegradedRate > cfg.Health.HealthyRate {
		return errors.New("engine.health.degradedRate cannot exceed healthyRate")
	}
	for key, spec := range map[string]string{
		"retrySweep":     cfg.Schedules.RetrySweep,
		"retention":      cfg.Schedules.Retention,
		"providerHealth": cfg.Schedules.ProviderHealth,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return errors.New("engine.schedules." + key + " is not a valid cron spec")
		}
	}
	return nil
}
