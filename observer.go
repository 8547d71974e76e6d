// Package cellular provides Observer pattern interfaces for event-driven
// communication inside the process. Events use the CloudEvents specification
// for standardized format and better interoperability with external systems.
package cellular

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer defines the interface for objects that want to be notified of
// runtime events: transitions, health evaluations, recovery outcomes,
// distribution failures. Observers should handle events quickly to avoid
// blocking other observers.
type Observer interface {
	// OnEvent is called when an event occurs that the observer is interested
	// in. The context can be used for cancellation and timeouts.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used for
	// registration tracking and debugging.
	ObserverID() string
}

// Subject defines the interface for objects that can be observed. The
// framework implements Subject; units and workers emit through it.
type Subject interface {
	// RegisterObserver adds an observer to receive notifications, optionally
	// filtered by event type. An empty filter receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all registered observers. Observer
	// errors are logged, never propagated to the emitter.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about currently registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	// ID is the unique identifier of the observer.
	ID string `json:"id"`

	// EventTypes are the event types this observer is subscribed to.
	// Empty slice means all events.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt indicates when the observer was registered.
	RegisteredAt time.Time `json:"registeredAt"`
}

// CloudEvent type constants for runtime events, using reverse domain
// notation per the CloudEvents specification.
const (
	EventTypeUnitCreated       = "dev.cellular.unit.created"
	EventTypeUnitTransitioned  = "dev.cellular.unit.transitioned"
	EventTypeUnitDestroyed     = "dev.cellular.unit.destroyed"
	EventTypeUnitRestored      = "dev.cellular.unit.restored"
	EventTypeHealthEvaluated   = "dev.cellular.health.evaluated"
	EventTypeRecoveryExhausted = "dev.cellular.recovery.exhausted"
	EventTypeChildAttached     = "dev.cellular.hierarchy.attached"
	EventTypeChildDetached     = "dev.cellular.hierarchy.detached"
)

// FunctionalObserver provides a simple way to create observers using
// functions, without defining full structs.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that uses the provided function
// to handle events.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer by returning the observer id.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

// observerRegistration pairs an observer with its filter.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]struct{}
	registeredAt time.Time
}

func (r observerRegistration) wants(eventType string) bool {
	if len(r.eventTypes) == 0 {
		return true
	}
	_, ok := r.eventTypes[eventType]
	return ok
}

// observerBus is the in-process Subject implementation embedded in the
// framework. Notification is synchronous in registration order; observer
// errors are logged and swallowed.
type observerBus struct {
	mu        sync.RWMutex
	observers []observerRegistration
	logger    Logger
}

func newObserverBus(logger Logger) *observerBus {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &observerBus{logger: logger}
}

// RegisterObserver implements Subject.
func (b *observerBus) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}

	filter := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.observers = append(b.observers, observerRegistration{
		observer:     observer,
		eventTypes:   filter,
		registeredAt: time.Now(),
	})
	return nil
}

// UnregisterObserver implements Subject.
func (b *observerBus) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrObserverNil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, reg := range b.observers {
		if reg.observer.ObserverID() == observer.ObserverID() {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return nil
		}
	}
	return nil
}

// NotifyObservers implements Subject.
func (b *observerBus) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	b.mu.RLock()
	regs := make([]observerRegistration, len(b.observers))
	copy(regs, b.observers)
	b.mu.RUnlock()

	for _, reg := range regs {
		if !reg.wants(event.Type()) {
			continue
		}
		if err := reg.observer.OnEvent(ctx, event); err != nil {
			b.logger.Debug("observer returned error",
				"observer", reg.observer.ObserverID(), "eventType", event.Type(), "error", err)
		}
	}
	return nil
}

// GetObservers implements Subject.
func (b *observerBus) GetObservers() []ObserverInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ObserverInfo, 0, len(b.observers))
	for _, reg := range b.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for t := range reg.eventTypes {
			types = append(types, t)
		}
		out = append(out, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   types,
			RegisteredAt: reg.registeredAt,
		})
	}
	return out
}
