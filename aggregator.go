package cellular

import (
	"errors"
	"runtime"
	"sync"
)

// ChildState is one entry of the child-state vector the aggregator evaluates:
// the child's current lifecycle state plus its critical-path marking.
type ChildState struct {
	State        LifecycleState
	CriticalPath bool
}

// AggregatorConfig holds the thresholds for deriving a parent's state from
// its children.
type AggregatorConfig struct {
	// CriticalDegradedThreshold is the number of degraded children at which
	// the parent itself degrades (rule 2). The parent degrades once the count
	// of degraded children reaches this value.
	CriticalDegradedThreshold int `yaml:"criticalDegradedThreshold" toml:"critical_degraded_threshold" json:"criticalDegradedThreshold"`
}

// DefaultAggregatorConfig returns the default aggregation thresholds.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{CriticalDegradedThreshold: 2}
}

// Aggregator derives a parent unit's state from the states of its children
// using ordered threshold rules, evaluated top to bottom with first match
// winning. The same rule table applies at every level of the hierarchy, so
// composites and machines share one aggregator.
//
// Ties break by rule order, never by vote count: a single degraded
// critical-path child dominates any number of healthy siblings.
type Aggregator struct {
	mu     sync.RWMutex
	config AggregatorConfig
	logger Logger
}

// NewAggregator creates an aggregator with the given thresholds.
func NewAggregator(config AggregatorConfig, logger Logger) *Aggregator {
	if config.CriticalDegradedThreshold <= 0 {
		config.CriticalDegradedThreshold = DefaultAggregatorConfig().CriticalDegradedThreshold
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Aggregator{config: config, logger: logger}
}

// SetConfig replaces the aggregation thresholds. Safe to call while units are
// live; the next recomputation uses the new thresholds.
func (a *Aggregator) SetConfig(config AggregatorConfig) {
	if config.CriticalDegradedThreshold <= 0 {
		config.CriticalDegradedThreshold = DefaultAggregatorConfig().CriticalDegradedThreshold
	}

	a.mu.Lock()
	a.config = config
	a.mu.Unlock()
}

// Derive applies the rule table to a child-state vector. It is a pure
// function of its inputs: the same vector and thresholds always produce the
// same result. The boolean is false when no rule matches (for example all
// children still in their creation phase), in which case the parent keeps its
// current state.
func (a *Aggregator) Derive(children []ChildState) (LifecycleState, bool) {
	if len(children) == 0 {
		return 0, false
	}

	a.mu.RLock()
	threshold := a.config.CriticalDegradedThreshold
	a.mu.RUnlock()

	degraded := 0
	active := 0
	ready := 0
	terminating := 0
	worseThanDegraded := 0

	for _, c := range children {
		// Rule 1: a degraded-or-worse critical-path child dominates.
		if c.CriticalPath && c.State >= StateDegraded {
			return StateDegraded, true
		}
		switch {
		case c.State == StateDegraded:
			degraded++
		case c.State == StateActive:
			active++
		case c.State == StateReady:
			ready++
		case c.State == StateTerminating:
			terminating++
		}
		if c.State > StateDegraded {
			worseThanDegraded++
		}
	}

	switch {
	// Rule 2: too many degraded children.
	case degraded >= threshold:
		return StateDegraded, true
	// Rule 3: something is running and nothing is shutting down.
	case active > 0 && worseThanDegraded == 0:
		return StateActive, true
	// Rule 4: everything is ready and waiting.
	case ready == len(children):
		return StateReady, true
	// Rule 5: shutdown in progress somewhere below.
	case terminating > 0:
		return StateTerminating, true
	default:
		return 0, false
	}
}

// Recompute re-derives the parent's state from its children's current states
// and applies the result through the parent's state machine. When the derived
// state equals the current state the recomputation short-circuits and no
// upward propagation occurs; when it differs, the parent's own transition
// listeners fire, which carries the recomputation to the grandparent.
//
// A derived state whose edge is not in the transition table (for example a
// parent still in its creation phase) is skipped: aggregation is advisory and
// never forces a transition outside the table.
//
// A recomputation that collides with the parent's own notification window
// (another goroutine is transitioning the parent and its listeners are still
// running) is not dropped: Recompute yields, re-derives from the then-current
// child states and retries until the window closes. Recompute must therefore
// never be called for a unit from inside that same unit's own listeners.
func (a *Aggregator) Recompute(parent *Unit) {
	for {
		children := parent.childStates()

		derived, ok := a.Derive(children)
		if !ok {
			return
		}

		current := parent.State()
		if derived == current {
			return
		}

		err := parent.transitionDirect(derived)
		if err == nil {
			a.logger.Info("aggregated state change",
				"unit", parent.ID(), "from", current.String(), "to", derived.String(),
				"children", len(children))
			return
		}

		if errors.Is(err, ErrTransitionInProgress) {
			// The derivation may be stale by the time the in-flight
			// notification finishes, so re-derive instead of replaying it.
			runtime.Gosched()
			continue
		}

		a.logger.Debug("aggregation skipped transition",
			"unit", parent.ID(), "from", current.String(), "to", derived.String(), "error", err)
		return
	}
}
