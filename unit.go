package cellular

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// journalSize bounds the per-unit activity journal.
const journalSize = 128

// JournalEntry is one line of a unit's bounded activity journal.
type JournalEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// childLink records one aggregation edge. A child belongs to at most one
// parent at a time; links are kept in attach order so aggregation is
// deterministic.
type childLink struct {
	unit         *Unit
	criticalPath bool
	sub          *StateSubscription
}

// unitHooks are installed by the Framework to drive persistence, distribution,
// metrics and observer events off unit mutations. All hooks must be
// non-blocking; the heavy lifting happens on asynchronous workers.
type unitHooks struct {
	onTransition func(u *Unit, from, to LifecycleState)
	onProperty   func(u *Unit, key string)
}

// Unit is the owning entity at the state-management layer. Components,
// composites and machines are structurally identical: a unit has exactly one
// state machine, one property store, zero or more children and an opaque
// identity supplied by an external identity collaborator. Whether a unit is a
// composite is purely a function of whether children are attached.
type Unit struct {
	id      string
	name    string
	machine *StateMachine
	props   *PropertyStore

	revision atomic.Uint64

	hierMu   sync.Mutex
	parent   *Unit
	children []*childLink

	assessMu sync.Mutex
	lastAssessment *HealthAssessment

	journalMu sync.Mutex
	journal   []JournalEntry

	agg   *Aggregator
	hooks unitHooks
}

// NewUnit creates a unit in conception with the given identity. The id is
// treated as an unexaminable string key; name is a human-readable label used
// in logs and diagnostics.
func NewUnit(id, name string) (*Unit, error) {
	if id == "" {
		return nil, ErrUnitIDEmpty
	}
	if name == "" {
		name = id
	}

	u := &Unit{
		id:      id,
		name:    name,
		machine: NewStateMachine(),
		props:   NewPropertyStore(),
	}
	u.logActivity("unit created")
	return u, nil
}

// ID returns the unit's opaque identity.
func (u *Unit) ID() string { return u.id }

// Name returns the unit's human-readable label.
func (u *Unit) Name() string { return u.name }

// State returns the unit's current lifecycle state.
func (u *Unit) State() LifecycleState { return u.machine.Current() }

// Revision returns the unit's current revision counter. The counter increases
// on every local mutation and drives the last-writer-wins merge rule during
// distributed reconciliation.
func (u *Unit) Revision() uint64 { return u.revision.Load() }

// Properties returns the unit's property store.
func (u *Unit) Properties() *PropertyStore { return u.props }

// Transition moves the unit to the target state through its state machine.
// While children are attached the unit's operational state is derived by
// aggregation and cannot be set directly; explicit transitions into the
// termination phase remain the caller's prerogative.
func (u *Unit) Transition(to LifecycleState) error {
	if u.HasChildren() && to.Phase() != PhaseTermination {
		return fmt.Errorf("%w: unit %s has %d children", ErrDerivedState, u.id, u.ChildCount())
	}
	return u.transitionDirect(to)
}

// transitionDirect applies a transition without the derived-state guard. The
// aggregator and destroy path use it; both still go through the transition
// table.
func (u *Unit) transitionDirect(to LifecycleState) error {
	from := u.machine.Current()
	if err := u.machine.Transition(to); err != nil {
		return err
	}

	u.revision.Add(1)
	u.logActivity(fmt.Sprintf("state transition: %s -> %s", from, to))
	if u.hooks.onTransition != nil {
		u.hooks.onTransition(u, from, to)
	}
	return nil
}

// SetProperty stores a value in the unit's property map and bumps the
// revision. A nil value removes the key.
func (u *Unit) SetProperty(key string, value any) error {
	if err := u.props.Set(key, value); err != nil {
		return err
	}

	u.revision.Add(1)
	if u.hooks.onProperty != nil {
		u.hooks.onProperty(u, key)
	}
	return nil
}

// GetProperty returns the value stored under key, or (nil, false) when absent.
func (u *Unit) GetProperty(key string) (any, bool) {
	return u.props.Get(key)
}

// OnStateChange registers a listener for the unit's state transitions.
func (u *Unit) OnStateChange(listener StateListener) (*StateSubscription, error) {
	return u.machine.OnChange(listener)
}

// AttachChild adds child to this unit's aggregation children. A child marked
// critical-path dominates aggregation: the parent degrades as soon as the
// child does, regardless of how many siblings are healthy. The child's state
// changes trigger recomputation of this unit's derived state.
func (u *Unit) AttachChild(child *Unit, criticalPath bool) error {
	if child == nil {
		return ErrUnitNil
	}
	if child == u {
		return ErrAttachToSelf
	}

	child.hierMu.Lock()
	if child.parent != nil {
		child.hierMu.Unlock()
		return fmt.Errorf("%w: %s", ErrChildAlreadyAttached, child.id)
	}
	child.parent = u
	child.hierMu.Unlock()

	link := &childLink{unit: child, criticalPath: criticalPath}

	sub, err := child.machine.OnChange(func(from, to LifecycleState) {
		if u.agg != nil {
			u.agg.Recompute(u)
		}
	})
	if err != nil {
		return err
	}
	link.sub = sub

	u.hierMu.Lock()
	u.children = append(u.children, link)
	u.hierMu.Unlock()

	u.logActivity(fmt.Sprintf("child attached: %s (criticalPath=%t)", child.id, criticalPath))

	if u.agg != nil {
		u.agg.Recompute(u)
	}
	return nil
}

// DetachChild removes child from this unit's aggregation children and cancels
// the state-change subscription wired at attach time.
func (u *Unit) DetachChild(child *Unit) error {
	if child == nil {
		return ErrUnitNil
	}

	u.hierMu.Lock()
	defer u.hierMu.Unlock()

	for i, link := range u.children {
		if link.unit == child {
			if link.sub != nil {
				_ = link.sub.Cancel()
			}
			u.children = append(u.children[:i], u.children[i+1:]...)

			child.hierMu.Lock()
			child.parent = nil
			child.hierMu.Unlock()

			u.logActivity(fmt.Sprintf("child detached: %s", child.id))
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrChildNotAttached, child.id)
}

// Parent returns the unit's parent, or nil for a root unit.
func (u *Unit) Parent() *Unit {
	u.hierMu.Lock()
	defer u.hierMu.Unlock()
	return u.parent
}

// HasChildren reports whether any children are attached.
func (u *Unit) HasChildren() bool {
	u.hierMu.Lock()
	defer u.hierMu.Unlock()
	return len(u.children) > 0
}

// ChildCount returns the number of attached children.
func (u *Unit) ChildCount() int {
	u.hierMu.Lock()
	defer u.hierMu.Unlock()
	return len(u.children)
}

// Children returns the attached child units in attach order.
func (u *Unit) Children() []*Unit {
	u.hierMu.Lock()
	defer u.hierMu.Unlock()

	out := make([]*Unit, len(u.children))
	for i, link := range u.children {
		out[i] = link.unit
	}
	return out
}

// childStates captures each child's current state plus its critical-path
// marking, in attach order. The aggregator evaluates this vector; a stale
// read during concurrent child changes is tolerated and converges on the next
// recomputation.
func (u *Unit) childStates() []ChildState {
	u.hierMu.Lock()
	defer u.hierMu.Unlock()

	out := make([]ChildState, len(u.children))
	for i, link := range u.children {
		out[i] = ChildState{
			State:        link.unit.State(),
			CriticalPath: link.criticalPath,
		}
	}
	return out
}

// VitalStats produces an immutable narrow snapshot of the unit's operational
// counters read from the well-known property keys. Absent keys read as zero.
func (u *Unit) VitalStats() VitalStats {
	stats := VitalStats{
		Timestamp: time.Now(),
		State:     u.machine.Current(),
	}
	if v, err := u.props.GetInt(PropProcessedCount); err == nil {
		stats.Processed = int64(v)
	}
	if v, err := u.props.GetInt(PropQueuedCount); err == nil {
		stats.Queued = int64(v)
	}
	if v, err := u.props.GetInt(PropErrorCount); err == nil {
		stats.Errors = int64(v)
	}
	if v, err := u.props.GetFloat(PropThroughput); err == nil {
		stats.Throughput = v
	}
	if v, err := u.props.GetFloat(PropLatencyMs); err == nil {
		stats.LatencyMs = v
	}
	return stats
}

// LastAssessment returns the most recent health assessment, or nil if the
// unit has never been assessed.
func (u *Unit) LastAssessment() *HealthAssessment {
	u.assessMu.Lock()
	defer u.assessMu.Unlock()
	return u.lastAssessment
}

func (u *Unit) recordAssessment(a *HealthAssessment) {
	u.assessMu.Lock()
	defer u.assessMu.Unlock()
	u.lastAssessment = a
}

// Destroy drives the unit through its termination phase, recursively
// destroying children first. Each child gets a graceful transition attempt;
// a child already terminated is skipped. The reason is recorded in the
// unit's properties before the terminal transition.
func (u *Unit) Destroy(reason string) error {
	if reason == "" {
		reason = "no reason provided"
	}

	for _, child := range u.Children() {
		if err := child.Destroy(reason); err != nil {
			u.logActivity(fmt.Sprintf("child %s destroy failed: %v", child.id, err))
		}
		_ = u.DetachChild(child)
	}

	if u.machine.Current().IsTerminal() {
		return nil
	}

	_ = u.SetProperty(PropTerminationReason, reason)
	u.logActivity("termination initiated: " + reason)

	// Aggregation may already have moved the unit to terminating when its
	// children began shutting down.
	if u.machine.Current() != StateTerminating {
		if err := u.transitionDirect(StateTerminating); err != nil {
			return fmt.Errorf("terminating %s: %w", u.id, err)
		}
	}
	if err := u.transitionDirect(StateTerminated); err != nil {
		return fmt.Errorf("terminating %s: %w", u.id, err)
	}
	return nil
}

// Archive moves a terminated unit into the archived state.
func (u *Unit) Archive() error {
	return u.transitionDirect(StateArchived)
}

// applyRemote installs an authoritative remote state, bypassing the
// transition table as a reconciliation operation. The revision only moves
// forward; a concurrent local mutation that already advanced past the remote
// revision wins.
func (u *Unit) applyRemote(state LifecycleState, revision uint64) {
	u.machine.Restore(state)
	for {
		cur := u.revision.Load()
		if revision <= cur || u.revision.CompareAndSwap(cur, revision) {
			break
		}
	}
	u.logActivity(fmt.Sprintf("remote state applied: %s (revision %d)", state, revision))
}

// logActivity appends a line to the unit's bounded activity journal.
func (u *Unit) logActivity(msg string) {
	u.journalMu.Lock()
	defer u.journalMu.Unlock()

	u.journal = append(u.journal, JournalEntry{At: time.Now(), Message: msg})
	if len(u.journal) > journalSize {
		u.journal = u.journal[len(u.journal)-journalSize:]
	}
}

// Journal returns a copy of the unit's activity journal, oldest first.
func (u *Unit) Journal() []JournalEntry {
	u.journalMu.Lock()
	defer u.journalMu.Unlock()

	out := make([]JournalEntry, len(u.journal))
	copy(out, u.journal)
	return out
}
