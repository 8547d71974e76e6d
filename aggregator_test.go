package cellular

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorDerive(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 2}, nil)

	tests := []struct {
		name     string
		children []ChildState
		want     LifecycleState
		matched  bool
	}{
		{
			name:    "no children no derivation",
			matched: false,
		},
		{
			name: "critical path degraded dominates healthy majority",
			children: []ChildState{
				{State: StateActive}, {State: StateActive}, {State: StateActive},
				{State: StateActive}, {State: StateActive},
				{State: StateDegraded, CriticalPath: true},
			},
			want:    StateDegraded,
			matched: true,
		},
		{
			name: "critical path terminating also dominates",
			children: []ChildState{
				{State: StateActive},
				{State: StateTerminating, CriticalPath: true},
			},
			want:    StateDegraded,
			matched: true,
		},
		{
			name: "degraded count at threshold degrades parent",
			children: []ChildState{
				{State: StateDegraded}, {State: StateDegraded}, {State: StateActive},
			},
			want:    StateDegraded,
			matched: true,
		},
		{
			name: "degraded count below threshold stays active",
			children: []ChildState{
				{State: StateDegraded}, {State: StateActive}, {State: StateActive},
			},
			want:    StateActive,
			matched: true,
		},
		{
			name: "one active child activates parent",
			children: []ChildState{
				{State: StateActive}, {State: StateReady},
			},
			want:    StateActive,
			matched: true,
		},
		{
			name: "active rule loses to shutdown in progress",
			children: []ChildState{
				{State: StateActive}, {State: StateTerminating},
			},
			want:    StateTerminating,
			matched: true,
		},
		{
			name: "all ready derives ready",
			children: []ChildState{
				{State: StateReady}, {State: StateReady},
			},
			want:    StateReady,
			matched: true,
		},
		{
			name: "all children still forming matches nothing",
			children: []ChildState{
				{State: StateConception}, {State: StateConfiguring},
			},
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := agg.Derive(tt.children)
			require.Equal(t, tt.matched, ok)
			if tt.matched {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAggregatorDeriveIsDeterministic(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 2}, nil)

	children := []ChildState{
		{State: StateActive}, {State: StateDegraded},
		{State: StateReady}, {State: StateDegraded},
	}

	first, ok := agg.Derive(children)
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		got, ok := agg.Derive(children)
		require.True(t, ok)
		assert.Equal(t, first, got)
	}
}

func TestAggregatorSingleDegradedWithThresholdOne(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 1}, nil)

	got, ok := agg.Derive([]ChildState{
		{State: StateDegraded}, {State: StateActive},
	})
	require.True(t, ok)
	assert.Equal(t, StateDegraded, got)
}

func TestAggregatorSetConfig(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 3}, nil)

	children := []ChildState{{State: StateDegraded}, {State: StateActive}}

	got, ok := agg.Derive(children)
	require.True(t, ok)
	assert.Equal(t, StateActive, got)

	agg.SetConfig(AggregatorConfig{CriticalDegradedThreshold: 1})

	got, ok = agg.Derive(children)
	require.True(t, ok)
	assert.Equal(t, StateDegraded, got)
}

// buildTree creates an active parent with n active children attached through
// the given aggregator.
func buildTree(t *testing.T, agg *Aggregator, n int, critical ...bool) (*Unit, []*Unit) {
	t.Helper()

	parent := newActiveUnit(t, "parent")
	parent.agg = agg

	children := make([]*Unit, 0, n)
	for i := 0; i < n; i++ {
		child := newActiveUnit(t, "child")
		isCritical := i < len(critical) && critical[i]
		require.NoError(t, parent.AttachChild(child, isCritical))
		children = append(children, child)
	}
	return parent, children
}

func newActiveUnit(t *testing.T, name string) *Unit {
	t.Helper()

	u, err := NewUnit(name+"-"+t.Name(), name)
	require.NoError(t, err)
	for _, step := range []LifecycleState{
		StateInitializing, StateConfiguring, StateSpecializing,
		StateDevelopingFeatures, StateReady, StateActive,
	} {
		require.NoError(t, u.transitionDirect(step))
	}
	return u
}

func TestAggregatorRecomputeOnChildTransition(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 2}, nil)
	parent, children := buildTree(t, agg, 3)

	require.NoError(t, children[0].Transition(StateDegraded))
	assert.Equal(t, StateActive, parent.State(), "one degraded child is below threshold")

	require.NoError(t, children[1].Transition(StateDegraded))
	assert.Equal(t, StateDegraded, parent.State(), "threshold reached")

	require.NoError(t, children[0].Transition(StateActive))
	require.NoError(t, children[1].Transition(StateActive))
	assert.Equal(t, StateActive, parent.State(), "parent recovers when children do")
}

func TestAggregatorCriticalPathChildDegradesParentImmediately(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 2}, nil)
	parent, children := buildTree(t, agg, 3, true)

	require.NoError(t, children[0].Transition(StateDegraded))
	assert.Equal(t, StateDegraded, parent.State())
}

func TestAggregatorPropagatesUpward(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 1}, nil)

	grandparent := newActiveUnit(t, "grandparent")
	grandparent.agg = agg
	parent, children := buildTree(t, agg, 2)
	require.NoError(t, grandparent.AttachChild(parent, false))

	sibling := newActiveUnit(t, "sibling")
	require.NoError(t, grandparent.AttachChild(sibling, false))

	require.NoError(t, children[0].Transition(StateDegraded))

	assert.Equal(t, StateDegraded, parent.State())
	assert.Equal(t, StateDegraded, grandparent.State(), "degradation must ripple to the top")
}

func TestChildTransitionWithAttachedParentCompletes(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 2}, nil)
	parent, children := buildTree(t, agg, 1, true)

	// The child's transition runs the parent recomputation from inside the
	// child's notification, which reads the child's state back while the
	// transition is still in flight. That read must not block the transition.
	done := make(chan error, 1)
	go func() { done <- children[0].Transition(StateDegraded) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("child transition never returned; parent recomputation is blocking it")
	}
	assert.Equal(t, StateDegraded, parent.State())
}

func TestAggregatorRecomputeRetriesDuringConcurrentNotification(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 2}, nil)
	parent, _ := buildTree(t, agg, 1)

	// Hold the parent's notification window open on one goroutine while a
	// recomputation on another derives a different state. The recomputation
	// must wait the window out and apply, not drop the derived state.
	notifying := make(chan struct{})
	release := make(chan struct{})
	sub, err := parent.OnStateChange(func(from, to LifecycleState) {
		if to == StateDegraded {
			close(notifying)
			<-release
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Cancel() })

	go func() { _ = parent.transitionDirect(StateDegraded) }()
	<-notifying

	applied := make(chan struct{})
	go func() {
		agg.Recompute(parent) // the healthy child derives active
		close(applied)
	}()

	select {
	case <-applied:
		t.Fatal("recompute must not apply while the parent is still notifying")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-applied:
	case <-time.After(5 * time.Second):
		t.Fatal("recompute dropped instead of retrying after the notification window")
	}
	assert.Equal(t, StateActive, parent.State(), "delayed recomputation must still land")
}

func TestAggregatorRecomputeShortCircuitsWhenUnchanged(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{CriticalDegradedThreshold: 2}, nil)
	parent, _ := buildTree(t, agg, 2)

	before := parent.Revision()
	agg.Recompute(parent)
	assert.Equal(t, before, parent.Revision(), "no-change recompute must not touch the unit")
}
