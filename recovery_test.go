package cellular

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferResetRequiresQueueDepth(t *testing.T) {
	u := newActiveUnit(t, "worker")

	err := NewBufferReset().Recover(context.Background(), u)
	assert.ErrorIs(t, err, ErrPropertyNotFound, "nothing to reset without a queue metric")
}

func TestBufferResetZeroesQueueCounters(t *testing.T) {
	u := newActiveUnit(t, "worker")
	require.NoError(t, u.SetProperty(PropQueueDepth, 800))
	require.NoError(t, u.SetProperty(PropQueuedCount, 800))

	require.NoError(t, NewBufferReset().Recover(context.Background(), u))

	depth, err := u.Properties().GetFloat(PropQueueDepth)
	require.NoError(t, err)
	assert.Zero(t, depth)

	queued, err := u.Properties().GetInt(PropQueuedCount)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestDependencyReconnectWithoutProbe(t *testing.T) {
	u := newActiveUnit(t, "worker")

	err := NewDependencyReconnect(nil).Recover(context.Background(), u)
	assert.ErrorIs(t, err, ErrNoProbe)
}

func TestDependencyReconnectInvokesProbe(t *testing.T) {
	u := newActiveUnit(t, "worker")

	probed := false
	probe := func(ctx context.Context, got *Unit) error {
		probed = true
		assert.Same(t, u, got)
		return nil
	}

	require.NoError(t, NewDependencyReconnect(probe).Recover(context.Background(), u))
	assert.True(t, probed)
}

func TestRestartCyclesUnitAndClearsErrorCounters(t *testing.T) {
	u := newActiveUnit(t, "worker")
	require.NoError(t, u.SetProperty(PropErrorCount, 17))
	require.NoError(t, u.SetProperty(PropErrorRate, 0.4))

	require.NoError(t, NewRestart().Recover(context.Background(), u))

	assert.Equal(t, StateActive, u.State())

	count, err := u.Properties().GetInt(PropErrorCount)
	require.NoError(t, err)
	assert.Zero(t, count)

	rate, err := u.Properties().GetFloat(PropErrorRate)
	require.NoError(t, err)
	assert.Zero(t, rate)
}

func TestRestartFailsOutsideOperationalStates(t *testing.T) {
	u, err := NewUnit("fresh", "fresh")
	require.NoError(t, err)

	// Still in conception; the ready edge does not exist.
	assert.ErrorIs(t, NewRestart().Recover(context.Background(), u), ErrInvalidTransition)
}

func TestDefaultLadderOrder(t *testing.T) {
	ladder := DefaultLadder(nil)
	require.Len(t, ladder, 3)

	assert.Equal(t, "buffer-reset", ladder[0].Name())
	assert.Equal(t, "dependency-reconnect", ladder[1].Name())
	assert.Equal(t, "restart", ladder[2].Name())
}

func TestDefaultLadderFallsThroughToRestart(t *testing.T) {
	// No queue metric and no probe: the first two rungs fail, restart runs,
	// clears the error rate and the unit recovers fully.
	m := NewMonitor(DefaultMonitorConfig(), nil, DefaultLadder(nil)...)

	u := newActiveUnit(t, "worker")
	require.NoError(t, u.SetProperty(PropErrorRate, 0.5))

	a := m.AssessAndRecover(context.Background(), u)

	assert.Equal(t, HealthHealthy, a.Status)
	assert.Equal(t, StateActive, u.State())
}
