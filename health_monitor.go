package cellular

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MetricThreshold configures warning and critical bounds for one metric key.
// By default higher values are worse (error rates, queue depths, latency);
// LowerIsWorse flips the comparison for rate-style metrics where a drop
// signals trouble.
type MetricThreshold struct {
	Key          string  `yaml:"key" toml:"key" json:"key"`
	Warning      float64 `yaml:"warning" toml:"warning" json:"warning"`
	Critical     float64 `yaml:"critical" toml:"critical" json:"critical"`
	LowerIsWorse bool    `yaml:"lowerIsWorse" toml:"lower_is_worse" json:"lowerIsWorse"`
}

// crossed reports the status for an observed value.
// Critical is checked before warning.
func (t MetricThreshold) crossed(value float64) HealthStatus {
	if t.LowerIsWorse {
		switch {
		case value <= t.Critical:
			return HealthCritical
		case value <= t.Warning:
			return HealthDegraded
		default:
			return HealthHealthy
		}
	}
	switch {
	case value >= t.Critical:
		return HealthCritical
	case value >= t.Warning:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// MonitorConfig configures health assessment and the recovery ladder.
type MonitorConfig struct {
	// Thresholds are evaluated in order; the assessment status is the worst
	// matched status across all of them.
	Thresholds []MetricThreshold `yaml:"thresholds" toml:"thresholds" json:"thresholds"`

	// StrategyTimeout bounds each recovery strategy attempt. Exceeding it
	// counts as strategy failure and advances the ladder.
	StrategyTimeout time.Duration `yaml:"strategyTimeout" toml:"strategy_timeout" json:"strategyTimeout"`
}

// DefaultMonitorConfig returns thresholds for the conventional metric keys.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Thresholds: []MetricThreshold{
			{Key: PropErrorRate, Warning: 0.05, Critical: 0.15},
			{Key: PropQueueDepth, Warning: 100, Critical: 500},
			{Key: PropProcessingRate, Warning: 5, Critical: 1, LowerIsWorse: true},
		},
		StrategyTimeout: 5 * time.Second,
	}
}

// Monitor periodically evaluates a unit's properties against thresholds,
// produces immutable health assessments and drives the recovery ladder when a
// unit in active state assesses degraded or critical. Assessment is advisory:
// it never force-transitions a unit outside the transition table.
type Monitor struct {
	mu     sync.RWMutex
	config MonitorConfig
	ladder []RecoveryStrategy
	logger Logger

	// onAssessed, when set, is invoked after every assessment; onExhausted
	// fires when the whole ladder fails. The framework uses both to emit
	// observer events and record metrics.
	onAssessed  func(u *Unit, a *HealthAssessment)
	onExhausted func(u *Unit)
}

// NewMonitor creates a health monitor with the given thresholds and recovery
// ladder. Strategies are tried in the order given; a nil ladder disables
// local recovery.
func NewMonitor(config MonitorConfig, logger Logger, ladder ...RecoveryStrategy) *Monitor {
	if len(config.Thresholds) == 0 {
		config.Thresholds = DefaultMonitorConfig().Thresholds
	}
	if config.StrategyTimeout <= 0 {
		config.StrategyTimeout = DefaultMonitorConfig().StrategyTimeout
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Monitor{config: config, ladder: ladder, logger: logger}
}

// SetConfig replaces the thresholds and strategy timeout. Safe to call while
// assessments are running; the next assessment uses the new thresholds.
func (m *Monitor) SetConfig(config MonitorConfig) {
	if len(config.Thresholds) == 0 {
		config.Thresholds = DefaultMonitorConfig().Thresholds
	}
	if config.StrategyTimeout <= 0 {
		config.StrategyTimeout = DefaultMonitorConfig().StrategyTimeout
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
}

// Assess reads the designated metric keys from the unit's properties,
// compares each against its thresholds (critical checks first) and returns an
// immutable assessment carrying the worst matched status. Metrics whose
// property is absent are reported as unknown readings and do not affect the
// overall status; a unit with no monitored metrics present assesses unknown.
func (m *Monitor) Assess(u *Unit) *HealthAssessment {
	m.mu.RLock()
	thresholds := m.config.Thresholds
	m.mu.RUnlock()

	assessment := &HealthAssessment{
		UnitID:    u.ID(),
		Timestamp: time.Now(),
		Status:    HealthUnknown,
		Readings:  make([]MetricReading, 0, len(thresholds)),
	}

	anyPresent := false
	worst := HealthHealthy

	for _, threshold := range thresholds {
		reading := MetricReading{Key: threshold.Key, Status: HealthUnknown}

		value, err := u.Properties().GetFloat(threshold.Key)
		if err == nil {
			anyPresent = true
			reading.Present = true
			reading.Value = value
			reading.Status = threshold.crossed(value)
			worst = worst.worse(reading.Status)

			switch reading.Status {
			case HealthCritical:
				assessment.Warnings = append(assessment.Warnings,
					fmt.Sprintf("%s=%g crossed critical threshold %g", threshold.Key, value, threshold.Critical))
			case HealthDegraded:
				assessment.Warnings = append(assessment.Warnings,
					fmt.Sprintf("%s=%g crossed warning threshold %g", threshold.Key, value, threshold.Warning))
			}
		}

		assessment.Readings = append(assessment.Readings, reading)
	}

	if anyPresent {
		assessment.Status = worst
	}

	u.recordAssessment(assessment)
	if m.onAssessed != nil {
		m.onAssessed(u, assessment)
	}
	return assessment
}

// AssessAndRecover assesses the unit and, when the unit is active and the
// assessment is degraded or critical, runs the recovery ladder: strategies in
// order, each bounded by the configured timeout, stopping at the first
// success. A successful strategy that leaves residual warnings moves the unit
// to degraded; full recovery keeps it active. When the whole ladder fails the
// unit transitions to degraded, the exhaustion is recorded in its properties
// and the problem escalates to the parent through ordinary aggregation.
func (m *Monitor) AssessAndRecover(ctx context.Context, u *Unit) *HealthAssessment {
	assessment := m.Assess(u)

	if assessment.Status != HealthDegraded && assessment.Status != HealthCritical {
		return assessment
	}
	if u.State() != StateActive {
		return assessment
	}

	m.logger.Warn("health degraded, starting recovery ladder",
		"unit", u.ID(), "status", assessment.Status.String(), "strategies", len(m.ladder))

	attempts, _ := u.Properties().GetInt(PropRecoveryAttempts)
	_ = u.SetProperty(PropRecoveryAttempts, attempts+1)

	for _, strategy := range m.ladder {
		if err := m.runStrategy(ctx, strategy, u); err != nil {
			m.logger.Debug("recovery strategy failed",
				"unit", u.ID(), "strategy", strategy.Name(), "error", err)
			continue
		}

		// First success stops the ladder. Re-assess to decide between full
		// and partial recovery.
		after := m.Assess(u)
		if after.Status == HealthHealthy || after.Status == HealthUnknown {
			m.logger.Info("recovery succeeded",
				"unit", u.ID(), "strategy", strategy.Name())
			return after
		}

		if err := u.transitionDirect(StateDegraded); err != nil {
			m.logger.Debug("degrade transition rejected", "unit", u.ID(), "error", err)
		}
		m.logger.Warn("partial recovery, unit degraded",
			"unit", u.ID(), "strategy", strategy.Name(), "status", after.Status.String())
		return after
	}

	// Ladder exhausted: degrade and let aggregation escalate. This is not an
	// error path for the caller; the degraded state is the signal.
	_ = u.SetProperty("lastRecoveryOutcome", ErrRecoveryExhausted.Error())
	if err := u.transitionDirect(StateDegraded); err != nil {
		m.logger.Debug("degrade transition rejected", "unit", u.ID(), "error", err)
	}
	m.logger.Warn("recovery ladder exhausted, unit degraded",
		"unit", u.ID(), "attempts", attempts+1)
	if m.onExhausted != nil {
		m.onExhausted(u)
	}

	return assessment
}

// runStrategy executes one recovery strategy under the per-strategy timeout.
// A timeout counts as failure and advances the ladder.
func (m *Monitor) runStrategy(ctx context.Context, strategy RecoveryStrategy, u *Unit) error {
	m.mu.RLock()
	timeout := m.config.StrategyTimeout
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- strategy.Recover(ctx, u)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrStrategyTimeout, strategy.Name())
	}
}
