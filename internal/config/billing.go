package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig holds hot-reloadable pricing knobs read from billing.yml.
type BillingConfig struct {
	CreditRules []CreditRuleConfig `mapstructure:"creditRules"`
	GainShare   GainShareConfig    `mapstructure:"gainShare"`
	Alerts      AlertConfig        `mapstructure:"alerts"`
}

// CreditRuleConfig registers an extension event type. Built-in event types
// cannot be overridden.
type CreditRuleConfig struct {
	EventType   string  `mapstructure:"eventType"`
	PerUnitCost int64   `mapstructure:"perUnitCost"`
	UnitSize    float64 `mapstructure:"unitSize"`
	MetaKey     string  `mapstructure:"metaKey"`
	Flat        bool    `mapstructure:"flat"`
}

type GainShareConfig struct {
	MinSharePct             float64                 `mapstructure:"minSharePct"`
	MaxSharePct             float64                 `mapstructure:"maxSharePct"`
	DefaultRepairsPer30Days float64                 `mapstructure:"defaultRepairsPer30Days"`
	Metrics                 []GainShareMetricConfig `mapstructure:"metrics"`
}

type GainShareMetricConfig struct {
	Name      string `mapstructure:"name"`
	Direction string `mapstructure:"direction"`
	Formula   string `mapstructure:"formula"`
}

type AlertConfig struct {
	WarningPct  float64 `mapstructure:"warningPct"`
	CriticalPct float64 `mapstructure:"criticalPct"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		GainShare: GainShareConfig{
			MinSharePct:             10,
			MaxSharePct:             20,
			DefaultRepairsPer30Days: 4,
			Metrics: []GainShareMetricConfig{
				{Name: "availability", Direction: "higher_is_better", Formula: "availability"},
				{Name: "mtbf", Direction: "higher_is_better", Formula: "mtbf"},
				{Name: "mttr", Direction: "lower_is_better", Formula: "mttr"},
			},
		},
		Alerts: AlertConfig{
			WarningPct:  75,
			CriticalPct: 90,
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder wraps a fixed config without file watching.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(log *zap.Logger) (*BillingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("billing.config")

	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditledger/config")
	v.AddConfigPath("/etc/creditledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.gainShare.minSharePct", defaults.GainShare.MinSharePct)
	v.SetDefault("billing.gainShare.maxSharePct", defaults.GainShare.MaxSharePct)
	v.SetDefault("billing.gainShare.defaultRepairsPer30Days", defaults.GainShare.DefaultRepairsPer30Days)
	v.SetDefault("billing.alerts.warningPct", defaults.Alerts.WarningPct)
	v.SetDefault("billing.alerts.criticalPct", defaults.Alerts.CriticalPct)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	cfg, err := decodeBillingConfig(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeBillingConfig(v)
			if err != nil {
				log.Warn("billing config reload rejected", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("billing config reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	if h == nil {
		return DefaultBillingConfig()
	}
	cfg, ok := h.current.Load().(BillingConfig)
	if !ok {
		return DefaultBillingConfig()
	}
	return cfg
}

func decodeBillingConfig(v *viper.Viper) (BillingConfig, error) {
	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return BillingConfig{}, err
	}
	if len(cfg.GainShare.Metrics) == 0 {
		cfg.GainShare.Metrics = DefaultBillingConfig().GainShare.Metrics
	}
	if err := ValidateBillingConfig(cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg, nil
}

func ValidateBillingConfig(cfg BillingConfig) error {
	gs := cfg.GainShare
	if gs.MinSharePct <= 0 || gs.MaxSharePct <= 0 {
		return errors.New("billing.gainShare share bounds must be positive")
	}
	if gs.MinSharePct > gs.MaxSharePct {
		return errors.New("billing.gainShare.minSharePct exceeds maxSharePct")
	}
	if gs.MaxSharePct > 100 {
		return errors.New("billing.gainShare.maxSharePct cannot exceed 100")
	}
	if cfg.Alerts.WarningPct <= 0 || cfg.Alerts.CriticalPct < cfg.Alerts.WarningPct {
		return errors.New("billing.alerts thresholds are inconsistent")
	}
	seen := map[string]struct{}{}
	for _, rule := range cfg.CreditRules {
		name := strings.TrimSpace(rule.EventType)
		if name == "" {
			return errors.New("billing.creditRules entry missing eventType")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("billing.creditRules duplicates %q", name)
		}
		seen[name] = struct{}{}
		if rule.PerUnitCost <= 0 {
			return fmt.Errorf("billing.creditRules %q perUnitCost must be positive", name)
		}
		if !rule.Flat && rule.UnitSize <= 0 {
			return fmt.Errorf("billing.creditRules %q unitSize must be positive", name)
		}
	}
	for _, metric := range gs.Metrics {
		switch metric.Direction {
		case "higher_is_better", "lower_is_better":
		default:
			return fmt.Errorf("billing.gainShare metric %q has invalid direction %q", metric.Name, metric.Direction)
		}
	}
	return nil
}
