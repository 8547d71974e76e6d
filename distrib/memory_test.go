package distrib

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellular-dev/cellular"
)

func announcement(unitID, origin string, revision uint64) cellular.Announcement {
	return cellular.Announcement{
		UnitID:    unitID,
		State:     "active",
		Revision:  revision,
		Origin:    origin,
		Timestamp: time.Now(),
	}
}

type collector struct {
	mu   sync.Mutex
	anns []cellular.Announcement
}

func (c *collector) handler(_ context.Context, ann cellular.Announcement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anns = append(c.anns, ann)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.anns)
}

func TestHubFansOutToAllChannels(t *testing.T) {
	hub := NewHub()
	a := hub.NewChannel()
	b := hub.NewChannel()

	var got collector
	_, err := b.Subscribe(got.handler)
	require.NoError(t, err)

	require.NoError(t, a.Publish(context.Background(), announcement("w", "a", 1)))

	require.Equal(t, 1, got.count())
	assert.Equal(t, "w", got.anns[0].UnitID)
}

func TestHubDeliversInSubscriptionOrder(t *testing.T) {
	hub := NewHub()
	ch := hub.NewChannel()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := ch.Subscribe(func(_ context.Context, _ cellular.Announcement) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	require.NoError(t, ch.Publish(context.Background(), announcement("w", "a", 1)))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestHubSubscriptionCancel(t *testing.T) {
	hub := NewHub()
	ch := hub.NewChannel()

	var got collector
	sub, err := ch.Subscribe(got.handler)
	require.NoError(t, err)

	require.NoError(t, sub.Cancel())
	require.NoError(t, sub.Cancel(), "cancel is idempotent")

	require.NoError(t, ch.Publish(context.Background(), announcement("w", "a", 1)))
	assert.Zero(t, got.count())
}

func TestHubRejectsNilHandler(t *testing.T) {
	hub := NewHub()
	ch := hub.NewChannel()

	_, err := ch.Subscribe(nil)
	assert.ErrorIs(t, err, cellular.ErrListenerNil)
}

func TestChannelCloseCancelsItsSubscriptions(t *testing.T) {
	hub := NewHub()
	a := hub.NewChannel()
	b := hub.NewChannel()

	var gotA, gotB collector
	_, err := a.Subscribe(gotA.handler)
	require.NoError(t, err)
	_, err = b.Subscribe(gotB.handler)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, b.Publish(context.Background(), announcement("w", "b", 1)))

	assert.Zero(t, gotA.count(), "closed channel must not receive")
	assert.Equal(t, 1, gotB.count(), "other channels stay subscribed")
}

func TestHubCloseDropsEverything(t *testing.T) {
	hub := NewHub()
	ch := hub.NewChannel()

	var got collector
	_, err := ch.Subscribe(got.handler)
	require.NoError(t, err)

	hub.Close()

	require.NoError(t, ch.Publish(context.Background(), announcement("w", "a", 1)))
	assert.Zero(t, got.count())

	_, err = hub.NewChannel().Subscribe(got.handler)
	assert.ErrorIs(t, err, cellular.ErrDistributorDown)
}

func TestHubConnectsTwoFrameworks(t *testing.T) {
	hub := NewHub()

	cfgA := cellular.DefaultConfig()
	cfgA.Distributor.Origin = "replica-a"
	fa, err := cellular.New(cellular.WithConfig(cfgA), cellular.WithChannel(hub.NewChannel()))
	require.NoError(t, err)

	cfgB := cellular.DefaultConfig()
	cfgB.Distributor.Origin = "replica-b"
	fb, err := cellular.New(cellular.WithConfig(cfgB), cellular.WithChannel(hub.NewChannel()))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, fa.Start(ctx))
	require.NoError(t, fb.Start(ctx))
	defer func() {
		_ = fa.Stop(ctx)
		_ = fb.Stop(ctx)
	}()

	ua, err := fa.Create(cellular.UnitConfig{ID: "w"})
	require.NoError(t, err)
	ub, err := fb.Create(cellular.UnitConfig{ID: "w"})
	require.NoError(t, err)

	require.NoError(t, ua.Transition(cellular.StateActive))
	require.NoError(t, ua.Transition(cellular.StateDegraded))

	require.Eventually(t, func() bool {
		return ub.State() == cellular.StateDegraded && ub.Revision() == ua.Revision()
	}, 3*time.Second, 10*time.Millisecond, "replicas must converge through the hub")
}
