package cellular

import (
	"context"
	"fmt"
)

// RecoveryStrategy is one rung of the recovery ladder: a local remediation
// attempt tried before a health problem escalates to the parent. Returning
// nil means the strategy believes it remediated the problem; the monitor
// re-assesses to confirm.
type RecoveryStrategy interface {
	// Name identifies the strategy in logs and events.
	Name() string

	// Recover attempts remediation on the unit. The context carries the
	// per-strategy timeout; implementations must return promptly when it is
	// cancelled.
	Recover(ctx context.Context, u *Unit) error
}

// StrategyFunc adapts a function into a RecoveryStrategy.
type StrategyFunc struct {
	name string
	fn   func(ctx context.Context, u *Unit) error
}

// NewStrategy creates a named recovery strategy from a function.
func NewStrategy(name string, fn func(ctx context.Context, u *Unit) error) *StrategyFunc {
	return &StrategyFunc{name: name, fn: fn}
}

// Name returns the strategy name.
func (s *StrategyFunc) Name() string { return s.name }

// Recover invokes the wrapped function.
func (s *StrategyFunc) Recover(ctx context.Context, u *Unit) error {
	return s.fn(ctx, u)
}

// DefaultLadder returns the conventional three-rung recovery ladder: reset
// internal buffers, reconnect dependencies, full restart. The reconnect rung
// needs a probe to be useful; without one it always fails and the ladder
// falls through to restart.
func DefaultLadder(probe DependencyProbe) []RecoveryStrategy {
	return []RecoveryStrategy{
		NewBufferReset(),
		NewDependencyReconnect(probe),
		NewRestart(),
	}
}

// BufferReset clears the unit's queue counters, modeling a drop of buffered
// work. It helps when queue depth is what crossed the threshold.
type BufferReset struct{}

// NewBufferReset creates the buffer-reset rung.
func NewBufferReset() *BufferReset { return &BufferReset{} }

// Name returns the strategy name.
func (*BufferReset) Name() string { return "buffer-reset" }

// Recover zeroes the queue-related properties.
func (*BufferReset) Recover(_ context.Context, u *Unit) error {
	if _, ok := u.GetProperty(PropQueueDepth); !ok {
		return fmt.Errorf("buffer-reset: %w: %s", ErrPropertyNotFound, PropQueueDepth)
	}
	if err := u.SetProperty(PropQueueDepth, 0.0); err != nil {
		return err
	}
	return u.SetProperty(PropQueuedCount, 0)
}

// DependencyProbe re-establishes a unit's external dependencies. The probe is
// supplied by the embedding application; the runtime has no knowledge of what
// the dependencies are.
type DependencyProbe func(ctx context.Context, u *Unit) error

// DependencyReconnect retries the unit's external connections through the
// configured probe.
type DependencyReconnect struct {
	probe DependencyProbe
}

// NewDependencyReconnect creates the reconnect rung. A nil probe makes the
// rung always fail, which simply advances the ladder.
func NewDependencyReconnect(probe DependencyProbe) *DependencyReconnect {
	return &DependencyReconnect{probe: probe}
}

// Name returns the strategy name.
func (*DependencyReconnect) Name() string { return "dependency-reconnect" }

// Recover invokes the probe.
func (d *DependencyReconnect) Recover(ctx context.Context, u *Unit) error {
	if d.probe == nil {
		return fmt.Errorf("dependency-reconnect: %w", ErrNoProbe)
	}
	return d.probe(ctx, u)
}

// Restart cycles the unit through ready and back to active, clearing error
// counters. This is the last rung before the ladder gives up.
type Restart struct{}

// NewRestart creates the restart rung.
func NewRestart() *Restart { return &Restart{} }

// Name returns the strategy name.
func (*Restart) Name() string { return "restart" }

// Recover performs the restart cycle. The transitions go through the state
// machine; a unit that cannot legally cycle fails the rung.
func (*Restart) Recover(_ context.Context, u *Unit) error {
	if err := u.transitionDirect(StateReady); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if err := u.transitionDirect(StateActive); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if err := u.SetProperty(PropErrorCount, 0); err != nil {
		return err
	}
	return u.SetProperty(PropErrorRate, 0.0)
}
