package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MediationConfig is the operator-tunable mediation policy. It is loaded
// from mediation.yml and hot-reloaded on file change, so rollup cadence
// and webhook retry behaviour can be adjusted without a restart.
type MediationConfig struct {
	RollupGranularities []string     `mapstructure:"rollupGranularities"`
	RollupBatchSize     int          `mapstructure:"rollupBatchSize"`
	Webhook             WebhookRetry `mapstructure:"webhook"`
}

type WebhookRetry struct {
	MaxAttempts    int   `mapstructure:"maxAttempts"`
	BaseBackoffSec int64 `mapstructure:"baseBackoffSec"`
	MaxBackoffSec  int64 `mapstructure:"maxBackoffSec"`
}

func DefaultMediationConfig() MediationConfig {
	return MediationConfig{
		RollupGranularities: []string{"hour", "day"},
		RollupBatchSize:     500,
		Webhook: WebhookRetry{
			MaxAttempts:    8,
			BaseBackoffSec: 30,
			MaxBackoffSec:  3600,
		},
	}
}

type MediationConfigHolder struct {
	current atomic.Value // holds MediationConfig
}

func NewMediationConfigHolder() (*MediationConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("mediation")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/airgate/config") // Volume-mounted config
	v.AddConfigPath("/etc/airgate")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("AIRGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultMediationConfig()
		v.SetDefault("mediation.rollupGranularities", defaults.RollupGranularities)
		v.SetDefault("mediation.rollupBatchSize", defaults.RollupBatchSize)
		v.SetDefault("mediation.webhook", defaults.Webhook)
	}

	var cfg MediationConfig
	if err := v.UnmarshalKey("mediation", &cfg); err != nil {
		return nil, err
	}
	if err := validateMediationConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MediationConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MediationConfig
		if err := v.UnmarshalKey("mediation", &updated); err != nil {
			log.Printf("[mediation-config] reload failed: %v", err)
			return
		}
		if err := validateMediationConfig(updated); err != nil {
			log.Printf("[mediation-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[mediation-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *MediationConfigHolder) Get() MediationConfig {
	return h.current.Load().(MediationConfig)
}

func validateMediationConfig(cfg MediationConfig) error {
	if len(cfg.RollupGranularities) == 0 {
		return errors.New("mediation.rollupGranularities cannot be empty")
	}
	for _, g := range cfg.RollupGranularities {
		if g != "hour" && g != "day" {
			return errors.New("mediation.rollupGranularities must be hour or day")
		}
	}
	if cfg.RollupBatchSize <= 0 {
		return errors.New("mediation.rollupBatchSize must be positive")
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		return errors.New("mediation.webhook.maxAttempts must be positive")
	}
	return nil
}
