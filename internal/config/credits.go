package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CreditsConfig tunes the credit ledger and the allocation job.
type CreditsConfig struct {
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type LedgerConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BackoffStep time.Duration `mapstructure:"backoffStep"`
}

type SchedulerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batchSize"`
}

func DefaultCreditsConfig() CreditsConfig {
	return CreditsConfig{
		Ledger: LedgerConfig{
			Retry: RetryConfig{MaxAttempts: 3, BackoffStep: time.Second},
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			Interval:  time.Hour,
			BatchSize: 100,
		},
	}
}

type CreditsConfigHolder struct {
	current atomic.Value // holds CreditsConfig
}

// NewStaticCreditsConfigHolder returns a holder that never reloads.
func NewStaticCreditsConfigHolder(cfg CreditsConfig) *CreditsConfigHolder {
	holder := &CreditsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCreditsConfigHolder() (*CreditsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("credits")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/creditline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCreditsConfig()
	v.SetDefault("ledger.retry.maxAttempts", defaults.Ledger.Retry.MaxAttempts)
	v.SetDefault("ledger.retry.backoffStep", defaults.Ledger.Retry.BackoffStep)
	v.SetDefault("scheduler.enabled", defaults.Scheduler.Enabled)
	v.SetDefault("scheduler.interval", defaults.Scheduler.Interval)
	v.SetDefault("scheduler.batchSize", defaults.Scheduler.BatchSize)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg CreditsConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateCreditsConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticCreditsConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CreditsConfig
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[credits-config] reload failed: %v", err)
			return
		}
		if err := validateCreditsConfig(updated); err != nil {
			log.Printf("[credits-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[credits-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CreditsConfigHolder) Get() CreditsConfig {
	return h.current.Load().(CreditsConfig)
}

func validateCreditsConfig(cfg CreditsConfig) error {
	if cfg.Ledger.Retry.MaxAttempts < 1 {
		return errors.New("ledger.retry.maxAttempts must be at least 1")
	}
	if cfg.Ledger.Retry.BackoffStep < 0 {
		return errors.New("ledger.retry.backoffStep cannot be negative")
	}
	if cfg.Scheduler.Interval <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	if cfg.Scheduler.BatchSize <= 0 {
		return errors.New("scheduler.batchSize must be positive")
	}
	return nil
}
