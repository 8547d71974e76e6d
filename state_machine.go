package cellular

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// StateListener is invoked synchronously after every successful transition
// with the old and new state. Listeners run in registration order before
// Transition returns, so a slow listener delays the caller; listeners must not
// perform blocking I/O and must not attempt a transition on the same unit.
// Reading state is always safe: Current never blocks, so a listener may
// inspect its own machine or any other unit's state while being notified.
type StateListener func(from, to LifecycleState)

// StateSubscription is the handle returned from OnChange. Cancelling it
// removes the listener; Cancel is idempotent.
type StateSubscription struct {
	machine   *StateMachine
	id        uint64
	cancelled atomic.Bool
}

// Cancel removes the listener from the state machine. It returns
// ErrSubscriptionCancelled if the subscription was already cancelled.
func (s *StateSubscription) Cancel() error {
	if !s.cancelled.CompareAndSwap(false, true) {
		return ErrSubscriptionCancelled
	}
	s.machine.removeListener(s.id)
	return nil
}

// listenerEntry pairs a listener with its registration id so subscriptions can
// be cancelled without disturbing registration order.
type listenerEntry struct {
	id uint64
	fn StateListener
}

// StateMachine owns one unit's lifecycle state and enforces the transition
// table. Mutation is serialized by a per-machine mutex: two goroutines racing
// to transition the same unit resolve via mutual exclusion, and successive
// transitions are totally ordered. The current state is published through an
// atomic, so reads never contend on the transition mutex; in particular a
// listener running inside a notification can read this machine's state, and
// aggregation listeners can read sibling and child states, without blocking.
type StateMachine struct {
	mu        sync.Mutex
	state     atomic.Int32
	notifying atomic.Bool

	listMu    sync.Mutex
	listeners []listenerEntry
	nextID    uint64
}

// NewStateMachine creates a state machine starting in conception.
func NewStateMachine() *StateMachine {
	m := &StateMachine{}
	m.state.Store(int32(StateConception))
	return m
}

// Current returns the current lifecycle state. It never blocks.
func (m *StateMachine) Current() LifecycleState {
	return LifecycleState(m.state.Load())
}

// Transition moves the machine to the target state if the edge (current,
// target) is in the transition table. No-op transitions are rejected with
// ErrInvalidTransition so callers detect redundant calls. A transition
// attempted from inside a listener callback is rejected with a wrapped
// ErrInvalidTransition rather than deadlocking.
func (m *StateMachine) Transition(to LifecycleState) error {
	if !m.mu.TryLock() {
		// The lock is held. If listeners are currently being notified this is
		// a reentrant call and must fail; otherwise wait our turn.
		if m.notifying.Load() {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, ErrTransitionInProgress)
		}
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	from := LifecycleState(m.state.Load())
	if from == to {
		return fmt.Errorf("%w: already in state %s", ErrInvalidTransition, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	m.state.Store(int32(to))

	listeners := m.snapshotListeners()
	m.notifying.Store(true)
	for _, entry := range listeners {
		entry.fn(from, to)
	}
	m.notifying.Store(false)

	return nil
}

// Restore sets the state directly, bypassing the transition table. This is
// reserved for reconstructing a unit from a persisted snapshot or applying an
// authoritative remote state; listeners are not notified.
func (m *StateMachine) Restore(state LifecycleState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Store(int32(state))
}

// OnChange registers a listener invoked after every successful transition.
// The returned subscription removes the listener when cancelled.
func (m *StateMachine) OnChange(listener StateListener) (*StateSubscription, error) {
	if listener == nil {
		return nil, ErrListenerNil
	}

	m.listMu.Lock()
	defer m.listMu.Unlock()

	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerEntry{id: id, fn: listener})

	return &StateSubscription{machine: m, id: id}, nil
}

// ListenerCount returns the number of registered listeners.
func (m *StateMachine) ListenerCount() int {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	return len(m.listeners)
}

// snapshotListeners copies the listener list so notification runs without
// holding listMu, allowing listeners to cancel subscriptions.
func (m *StateMachine) snapshotListeners() []listenerEntry {
	m.listMu.Lock()
	defer m.listMu.Unlock()

	out := make([]listenerEntry, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *StateMachine) removeListener(id uint64) {
	m.listMu.Lock()
	defer m.listMu.Unlock()

	for i, entry := range m.listeners {
		if entry.id == id {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}
