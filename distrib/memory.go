// Package distrib provides channel implementations for the cellular
// distributor. The in-memory hub connects replicas within one process, which
// is enough for tests and single-binary multi-replica setups; production
// deployments plug in a broker-backed Channel instead.
package distrib

import (
	"context"
	"sort"
	"sync"

	"github.com/cellular-dev/cellular"
)

// Hub is an in-process announcement bus. Every channel created from the hub
// sees every announcement published on any of them, including its own —
// replicas filter their own announcements by origin. Delivery is synchronous
// and in registration order.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]cellular.RemoteHandler
	nextID int
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]cellular.RemoteHandler)}
}

// NewChannel returns a channel attached to the hub.
func (h *Hub) NewChannel() *MemoryChannel {
	return &MemoryChannel{hub: h}
}

// Close disconnects all channels. Publishes after close are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[int]cellular.RemoteHandler)
}

func (h *Hub) publish(ctx context.Context, ann cellular.Announcement) {
	h.mu.RLock()
	handlers := make([]cellular.RemoteHandler, 0, len(h.subs))
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order instead.
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, h.subs[id])
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, ann)
	}
}

func (h *Hub) subscribe(handler cellular.RemoteHandler) (int, error) {
	if handler == nil {
		return 0, cellular.ErrListenerNil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, cellular.ErrDistributorDown
	}

	h.nextID++
	id := h.nextID
	h.subs[id] = handler
	return id, nil
}

func (h *Hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// MemoryChannel implements cellular.Channel over a Hub.
type MemoryChannel struct {
	hub *Hub

	mu  sync.Mutex
	ids []int
}

// Publish implements cellular.Channel.
func (c *MemoryChannel) Publish(ctx context.Context, ann cellular.Announcement) error {
	c.hub.publish(ctx, ann)
	return nil
}

// Subscribe implements cellular.Channel.
func (c *MemoryChannel) Subscribe(handler cellular.RemoteHandler) (cellular.ChannelSubscription, error) {
	id, err := c.hub.subscribe(handler)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.ids = append(c.ids, id)
	c.mu.Unlock()

	return &memorySubscription{hub: c.hub, id: id}, nil
}

// Close implements cellular.Channel, cancelling this channel's subscriptions.
// The hub itself stays up for other channels.
func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	ids := c.ids
	c.ids = nil
	c.mu.Unlock()

	for _, id := range ids {
		c.hub.unsubscribe(id)
	}
	return nil
}

type memorySubscription struct {
	hub  *Hub
	id   int
	once sync.Once
}

func (s *memorySubscription) Cancel() error {
	s.once.Do(func() { s.hub.unsubscribe(s.id) })
	return nil
}
