package cellular

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// PersistenceConfig configures snapshotting behavior.
type PersistenceConfig struct {
	// Throttle is the minimum interval between property-only snapshots of
	// the same unit. Transitions always snapshot immediately.
	Throttle time.Duration
}

// SweepConfig configures the scheduled background health sweep.
type SweepConfig struct {
	// Schedule is a cron spec (e.g. "@every 30s"). Empty disables sweeping.
	Schedule string
}

// Config is the full framework configuration.
type Config struct {
	Aggregator  AggregatorConfig
	Monitor     MonitorConfig
	Distributor DistributorConfig
	Persistence PersistenceConfig
	Sweep       SweepConfig
}

// DefaultConfig returns the configuration used when nothing is supplied.
func DefaultConfig() Config {
	return Config{
		Aggregator:  DefaultAggregatorConfig(),
		Monitor:     DefaultMonitorConfig(),
		Distributor: DistributorConfig{ReconcileEvery: defaultReconcileEvery},
		Persistence: PersistenceConfig{Throttle: defaultThrottle},
		Sweep:       SweepConfig{},
	}
}

// fileConfig is the on-disk schema. Durations are strings in Go duration
// syntax ("2s", "500ms") for both YAML and TOML.
type fileConfig struct {
	Aggregator struct {
		CriticalDegradedThreshold int `yaml:"criticalDegradedThreshold" toml:"critical_degraded_threshold"`
	} `yaml:"aggregator" toml:"aggregator"`

	Monitor struct {
		Thresholds      []MetricThreshold `yaml:"thresholds" toml:"thresholds"`
		StrategyTimeout string            `yaml:"strategyTimeout" toml:"strategy_timeout"`
	} `yaml:"monitor" toml:"monitor"`

	Distributor struct {
		Origin         string `yaml:"origin" toml:"origin"`
		Passive        bool   `yaml:"passive" toml:"passive"`
		ReconcileEvery string `yaml:"reconcileEvery" toml:"reconcile_every"`
	} `yaml:"distributor" toml:"distributor"`

	Persistence struct {
		Throttle string `yaml:"throttle" toml:"throttle"`
	} `yaml:"persistence" toml:"persistence"`

	Sweep struct {
		Schedule string `yaml:"schedule" toml:"schedule"`
	} `yaml:"sweep" toml:"sweep"`
}

// LoadConfig reads a framework configuration from a YAML or TOML file,
// filling unset values with defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, ErrConfigPathEmpty
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parsing yaml config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parsing toml config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrConfigFormat, filepath.Ext(path))
	}

	cfg := DefaultConfig()

	if fc.Aggregator.CriticalDegradedThreshold > 0 {
		cfg.Aggregator.CriticalDegradedThreshold = fc.Aggregator.CriticalDegradedThreshold
	}
	if len(fc.Monitor.Thresholds) > 0 {
		cfg.Monitor.Thresholds = fc.Monitor.Thresholds
	}
	if fc.Monitor.StrategyTimeout != "" {
		d, err := time.ParseDuration(fc.Monitor.StrategyTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("%w: monitor.strategyTimeout: %v", ErrConfigInvalid, err)
		}
		cfg.Monitor.StrategyTimeout = d
	}
	cfg.Distributor.Origin = fc.Distributor.Origin
	if fc.Distributor.Passive {
		cfg.Distributor.Role = ReplicaPassive
	}
	if fc.Distributor.ReconcileEvery != "" {
		d, err := time.ParseDuration(fc.Distributor.ReconcileEvery)
		if err != nil {
			return Config{}, fmt.Errorf("%w: distributor.reconcileEvery: %v", ErrConfigInvalid, err)
		}
		cfg.Distributor.ReconcileEvery = d
	}
	if fc.Persistence.Throttle != "" {
		d, err := time.ParseDuration(fc.Persistence.Throttle)
		if err != nil {
			return Config{}, fmt.Errorf("%w: persistence.throttle: %v", ErrConfigInvalid, err)
		}
		cfg.Persistence.Throttle = d
	}
	cfg.Sweep.Schedule = fc.Sweep.Schedule

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks threshold consistency.
func (c Config) Validate() error {
	for _, t := range c.Monitor.Thresholds {
		if t.Key == "" {
			return fmt.Errorf("%w: threshold with empty key", ErrConfigInvalid)
		}
		if t.LowerIsWorse {
			if t.Critical > t.Warning {
				return fmt.Errorf("%w: %s: critical %g must not exceed warning %g for lower-is-worse metric",
					ErrConfigInvalid, t.Key, t.Critical, t.Warning)
			}
		} else if t.Warning > t.Critical {
			return fmt.Errorf("%w: %s: warning %g must not exceed critical %g",
				ErrConfigInvalid, t.Key, t.Warning, t.Critical)
		}
	}
	if c.Aggregator.CriticalDegradedThreshold < 0 {
		return fmt.Errorf("%w: criticalDegradedThreshold must be positive", ErrConfigInvalid)
	}
	return nil
}
