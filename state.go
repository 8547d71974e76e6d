package cellular

import "fmt"

// LifecycleState represents the phase a unit currently occupies. The set is
// closed and ordered from creation through termination; exactly one value
// holds at any instant.
type LifecycleState int

const (
	// StateConception is the initial state of every unit.
	StateConception LifecycleState = iota

	// StateInitializing indicates early structure formation.
	StateInitializing

	// StateConfiguring indicates the unit is establishing its boundaries.
	StateConfiguring

	// StateSpecializing indicates the unit is determining its core functions.
	StateSpecializing

	// StateDevelopingFeatures indicates the unit is building specific capabilities.
	StateDevelopingFeatures

	// StateReady indicates the unit is prepared but not yet active.
	StateReady

	// StateActive indicates the unit is fully operational.
	StateActive

	// StateDegraded indicates the unit is operational but experiencing
	// performance issues. A unit oscillates between active and degraded under
	// health monitoring and aggregation.
	StateDegraded

	// StateTerminating indicates the unit is shutting down.
	StateTerminating

	// StateTerminated indicates shutdown has completed. Terminal except for
	// archival.
	StateTerminated

	// StateArchived indicates the unit's knowledge has been preserved after
	// termination. Terminal.
	StateArchived
)

// Phase groups lifecycle states into coarse categories.
type Phase int

const (
	// PhaseCreation covers conception and initializing.
	PhaseCreation Phase = iota

	// PhaseDevelopment covers configuring through developing-features.
	PhaseDevelopment

	// PhaseOperational covers ready, active and degraded.
	PhaseOperational

	// PhaseTermination covers terminating, terminated and archived.
	PhaseTermination
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseCreation:
		return "creation"
	case PhaseDevelopment:
		return "development"
	case PhaseOperational:
		return "operational"
	case PhaseTermination:
		return "termination"
	default:
		return "unknown"
	}
}

// stateNames is the canonical string form used in logs, events and snapshots.
var stateNames = map[LifecycleState]string{
	StateConception:         "conception",
	StateInitializing:       "initializing",
	StateConfiguring:        "configuring",
	StateSpecializing:       "specializing",
	StateDevelopingFeatures: "developing-features",
	StateReady:              "ready",
	StateActive:             "active",
	StateDegraded:           "degraded",
	StateTerminating:        "terminating",
	StateTerminated:         "terminated",
	StateArchived:           "archived",
}

// String returns the canonical string form of the state.
func (s LifecycleState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseLifecycleState parses the canonical string form back into a state.
func ParseLifecycleState(name string) (LifecycleState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
}

// Phase returns the coarse category the state belongs to.
func (s LifecycleState) Phase() Phase {
	switch {
	case s <= StateInitializing:
		return PhaseCreation
	case s <= StateDevelopingFeatures:
		return PhaseDevelopment
	case s <= StateDegraded:
		return PhaseOperational
	default:
		return PhaseTermination
	}
}

// IsTerminal reports whether the state has no outgoing transitions other than
// archival bookkeeping. Terminated units may still be archived; archived units
// cannot transition at all.
func (s LifecycleState) IsTerminal() bool {
	return s == StateTerminated || s == StateArchived
}

// IsOperational reports whether the unit is in its operational phase.
func (s LifecycleState) IsOperational() bool {
	return s.Phase() == PhaseOperational
}

// transitionTable holds the allowed lifecycle edges. Every transition must
// belong to this table; anything else fails with ErrInvalidTransition. No-op
// transitions (from == to) are deliberately absent so that redundant calls
// surface at the call site instead of being silently applied.
var transitionTable = map[LifecycleState][]LifecycleState{
	StateConception:         {StateInitializing},
	StateInitializing:       {StateConfiguring},
	StateConfiguring:        {StateSpecializing},
	StateSpecializing:       {StateDevelopingFeatures},
	StateDevelopingFeatures: {StateReady},
	StateReady:              {StateActive, StateTerminating},
	StateActive:             {StateReady, StateDegraded, StateTerminating},
	StateDegraded:           {StateActive, StateReady, StateTerminating},
	StateTerminating:        {StateTerminated},
	StateTerminated:         {StateArchived},
	StateArchived:           nil,
}

// CanTransition reports whether the edge (from, to) is in the transition table.
func CanTransition(from, to LifecycleState) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the outgoing edges for the given state.
func AllowedTransitions(from LifecycleState) []LifecycleState {
	edges := transitionTable[from]
	out := make([]LifecycleState, len(edges))
	copy(out, edges)
	return out
}

// AllLifecycleStates returns every lifecycle state in order. Useful for
// exhaustive validation of the transition table.
func AllLifecycleStates() []LifecycleState {
	return []LifecycleState{
		StateConception,
		StateInitializing,
		StateConfiguring,
		StateSpecializing,
		StateDevelopingFeatures,
		StateReady,
		StateActive,
		StateDegraded,
		StateTerminating,
		StateTerminated,
		StateArchived,
	}
}
