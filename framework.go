package cellular

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// IdentityProvider supplies an opaque, stable identifier per unit. The
// runtime treats identities as unexaminable string keys and never resolves or
// routes by name.
type IdentityProvider interface {
	NewID() string
}

// UUIDIdentity is the default identity provider, producing time-ordered
// UUIDv7 identifiers with a v4 fallback.
type UUIDIdentity struct{}

// NewID implements IdentityProvider.
func (UUIDIdentity) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// Recorder receives operational counters from the framework. The metrics
// subpackage provides a Prometheus-backed implementation; the default
// discards everything.
type Recorder interface {
	Transition(from, to string)
	Assessment(status string)
	RecoveryExhausted()
	UnitCount(n int)
}

type noopRecorder struct{}

func (noopRecorder) Transition(string, string) {}
func (noopRecorder) Assessment(string)         {}
func (noopRecorder) RecoveryExhausted()        {}
func (noopRecorder) UnitCount(int)             {}

// Option configures a Framework.
type Option func(*Framework)

// WithLogger sets the framework logger.
func WithLogger(logger Logger) Option {
	return func(f *Framework) { f.logger = logger }
}

// WithIdentity sets the identity provider.
func WithIdentity(provider IdentityProvider) Option {
	return func(f *Framework) { f.identity = provider }
}

// WithSnapshotStore enables persistence through the given store. Units are
// restored from their snapshot on creation and saved on every transition.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(f *Framework) { f.store = store }
}

// WithChannel enables distribution through the given channel.
func WithChannel(channel Channel) Option {
	return func(f *Framework) { f.channel = channel }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(f *Framework) { f.recorder = recorder }
}

// WithRecoveryLadder sets the recovery strategies tried, in order, when an
// active unit assesses degraded or critical.
func WithRecoveryLadder(ladder ...RecoveryStrategy) Option {
	return func(f *Framework) { f.ladder = ladder }
}

// WithConfig applies a full framework configuration.
func WithConfig(config Config) Option {
	return func(f *Framework) { f.config = config }
}

// UnitConfig describes a unit to create.
type UnitConfig struct {
	// ID is the unit identity; when empty the identity provider supplies one.
	ID string

	// Name is a human-readable label for logs and diagnostics.
	Name string

	// Reason seeds the unit's lineage.
	Reason string

	// Properties are applied after creation.
	Properties map[string]any

	// Manual skips the automatic configuration walk from conception to
	// ready. Manual units start in conception and must be driven through
	// their creation and development phases by the caller.
	Manual bool
}

// configureWalk is the automatic creation-to-ready sequence.
var configureWalk = []LifecycleState{
	StateInitializing,
	StateConfiguring,
	StateSpecializing,
	StateDevelopingFeatures,
	StateReady,
}

// Framework owns the unit registry and wires the state machine, health
// monitor, aggregator, persistence and distribution together. It implements
// Subject, so callers can observe every runtime event as CloudEvents. The
// framework is handed to constructors explicitly; there is no process-global
// instance.
type Framework struct {
	*observerBus

	config   Config
	logger   Logger
	identity IdentityProvider
	recorder Recorder

	agg     *Aggregator
	monitor *Monitor
	ladder  []RecoveryStrategy

	store SnapshotStore
	saver *Saver

	channel     Channel
	distributor *Distributor

	sweeper *Sweeper

	mu      sync.RWMutex
	units   map[string]*Unit
	stopped bool
}

// New creates a framework with the given options.
func New(opts ...Option) (*Framework, error) {
	f := &Framework{
		config:   DefaultConfig(),
		logger:   NewNoopLogger(),
		identity: UUIDIdentity{},
		recorder: noopRecorder{},
		units:    make(map[string]*Unit),
	}

	for _, opt := range opts {
		opt(f)
	}

	f.observerBus = newObserverBus(f.logger)
	f.agg = NewAggregator(f.config.Aggregator, f.logger)
	f.monitor = NewMonitor(f.config.Monitor, f.logger, f.ladder...)
	f.monitor.onAssessed = f.onAssessed
	f.monitor.onExhausted = f.onExhausted

	if f.store != nil {
		saver, err := NewSaver(f.store, f.logger, f.config.Persistence.Throttle)
		if err != nil {
			return nil, err
		}
		f.saver = saver
	}

	if f.channel != nil {
		dist, err := NewDistributor(f.config.Distributor, f.channel, f.lookup, f.Units, f.logger)
		if err != nil {
			return nil, err
		}
		f.distributor = dist
	}

	return f, nil
}

// Start brings up the background workers: the distributor's publish and
// reconcile loops, and the scheduled health sweeper when configured.
func (f *Framework) Start(ctx context.Context) error {
	if f.distributor != nil {
		if err := f.distributor.Start(ctx); err != nil {
			return fmt.Errorf("starting distributor: %w", err)
		}
	}

	if f.config.Sweep.Schedule != "" {
		sweeper, err := NewSweeper(f, f.config.Sweep, f.logger)
		if err != nil {
			return fmt.Errorf("starting sweeper: %w", err)
		}
		f.sweeper = sweeper
		f.sweeper.Start()
	}

	f.logger.Info("framework started", "units", f.UnitCount())
	return nil
}

// Stop shuts down background workers, flushes pending saves and closes the
// store and channel. The framework rejects further mutations afterwards.
func (f *Framework) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	if f.sweeper != nil {
		f.sweeper.Stop()
	}
	if f.distributor != nil {
		f.distributor.Stop()
	}
	if f.saver != nil {
		f.saver.Stop()
	}

	var errs []error
	if f.store != nil {
		if err := f.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	if f.channel != nil {
		if err := f.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing channel: %w", err))
		}
	}

	f.logger.Info("framework stopped")
	return errors.Join(errs...)
}

// Create builds a unit from the config, restores it from a persisted
// snapshot when one exists (the restored unit resumes its saved state and
// properties without passing through conception again), or otherwise walks it
// from conception to ready unless the config asks for manual development.
func (f *Framework) Create(cfg UnitConfig) (*Unit, error) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil, ErrFrameworkStopped
	}
	f.mu.Unlock()

	id := cfg.ID
	if id == "" {
		id = f.identity.NewID()
		if id == "" {
			return nil, ErrIdentityExhausted
		}
	}

	f.mu.RLock()
	_, exists := f.units[id]
	f.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUnit, id)
	}

	u, err := NewUnit(id, cfg.Name)
	if err != nil {
		return nil, err
	}
	u.agg = f.agg
	u.hooks = unitHooks{onTransition: f.onTransition, onProperty: f.onProperty}

	reason := cfg.Reason
	if reason == "" {
		reason = "created"
	}
	_ = u.props.Set(PropLineage, []string{reason})

	restored := false
	if f.store != nil {
		restored, err = f.restore(u)
		if err != nil {
			return nil, err
		}
	}

	if !restored && !cfg.Manual {
		for _, step := range configureWalk {
			if err := u.transitionDirect(step); err != nil {
				return nil, fmt.Errorf("configuring unit %s: %w", id, err)
			}
		}
	}

	for key, value := range cfg.Properties {
		if err := u.SetProperty(key, value); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	f.units[id] = u
	count := len(f.units)
	f.mu.Unlock()

	f.recorder.UnitCount(count)

	eventType := EventTypeUnitCreated
	if restored {
		eventType = EventTypeUnitRestored
	}
	f.emit(eventType, u.ID(), map[string]any{
		"name":  u.Name(),
		"state": u.State().String(),
	})
	f.logger.Info("unit created",
		"unit", id, "name", u.Name(), "state", u.State().String(), "restored", restored)

	return u, nil
}

// restore initializes the unit from its stored snapshot, bypassing the
// transition table once as a restore operation.
func (f *Framework) restore(u *Unit) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	snap, err := f.store.Load(ctx, u.ID())
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return false, nil
		}
		// A broken store must not prevent unit creation; start fresh.
		f.logger.Error("snapshot load failed, starting fresh", "unit", u.ID(), "error", err)
		return false, nil
	}

	state, err := snap.LifecycleState()
	if err != nil {
		f.logger.Error("snapshot undecodable, starting fresh", "unit", u.ID(), "error", err)
		return false, nil
	}

	u.machine.Restore(state)
	u.props.Restore(snap.Properties)
	u.revision.Store(snap.Revision)
	u.logActivity("restored from snapshot")
	return true, nil
}

// Get returns the unit registered under id.
func (f *Framework) Get(id string) (*Unit, error) {
	u, ok := f.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	return u, nil
}

func (f *Framework) lookup(id string) (*Unit, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.units[id]
	return u, ok
}

// Units returns every registered unit, sorted by id.
func (f *Framework) Units() []*Unit {
	f.mu.RLock()
	out := make([]*Unit, 0, len(f.units))
	for _, u := range f.units {
		out = append(out, u)
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// UnitCount returns the number of registered units.
func (f *Framework) UnitCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.units)
}

// Transition moves the unit registered under id to the target state.
func (f *Framework) Transition(id string, to LifecycleState) error {
	u, err := f.Get(id)
	if err != nil {
		return err
	}
	return u.Transition(to)
}

// SetProperty stores a property on the unit registered under id.
func (f *Framework) SetProperty(id, key string, value any) error {
	u, err := f.Get(id)
	if err != nil {
		return err
	}
	return u.SetProperty(key, value)
}

// GetProperty reads a property from the unit registered under id, returning
// def when the key is absent.
func (f *Framework) GetProperty(id, key string, def any) (any, error) {
	u, err := f.Get(id)
	if err != nil {
		return nil, err
	}
	return u.Properties().GetOrDefault(key, def), nil
}

// AssessHealth assesses the unit registered under id, running the recovery
// ladder when warranted.
func (f *Framework) AssessHealth(ctx context.Context, id string) (*HealthAssessment, error) {
	u, err := f.Get(id)
	if err != nil {
		return nil, err
	}
	return f.monitor.AssessAndRecover(ctx, u), nil
}

// VitalStats returns the narrow polling snapshot for the unit registered
// under id.
func (f *Framework) VitalStats(id string) (VitalStats, error) {
	u, err := f.Get(id)
	if err != nil {
		return VitalStats{}, err
	}
	return u.VitalStats(), nil
}

// AttachChild wires child under parent for aggregation.
func (f *Framework) AttachChild(parentID, childID string, criticalPath bool) error {
	parent, err := f.Get(parentID)
	if err != nil {
		return err
	}
	child, err := f.Get(childID)
	if err != nil {
		return err
	}
	if err := parent.AttachChild(child, criticalPath); err != nil {
		return err
	}
	f.emit(EventTypeChildAttached, parent.ID(), map[string]any{
		"child":        child.ID(),
		"criticalPath": criticalPath,
	})
	return nil
}

// DetachChild removes child from parent.
func (f *Framework) DetachChild(parentID, childID string) error {
	parent, err := f.Get(parentID)
	if err != nil {
		return err
	}
	child, err := f.Get(childID)
	if err != nil {
		return err
	}
	if err := parent.DetachChild(child); err != nil {
		return err
	}
	f.emit(EventTypeChildDetached, parent.ID(), map[string]any{"child": child.ID()})
	return nil
}

// OnStateChange registers a transition listener on the unit registered under
// id.
func (f *Framework) OnStateChange(id string, listener StateListener) (*StateSubscription, error) {
	u, err := f.Get(id)
	if err != nil {
		return nil, err
	}
	return u.OnStateChange(listener)
}

// Destroy recursively terminates the unit's children, then the unit itself,
// and removes the whole subtree from the registry along with any persisted
// snapshots.
func (f *Framework) Destroy(id, reason string) error {
	u, err := f.Get(id)
	if err != nil {
		return err
	}

	subtree := collectSubtree(u)

	if err := u.Destroy(reason); err != nil {
		return err
	}

	f.mu.Lock()
	for _, member := range subtree {
		delete(f.units, member.ID())
	}
	count := len(f.units)
	f.mu.Unlock()

	f.recorder.UnitCount(count)

	for _, member := range subtree {
		if f.saver != nil {
			f.saver.Forget(member)
		}
		f.emit(EventTypeUnitDestroyed, member.ID(), map[string]any{"reason": reason})
	}
	f.logger.Info("unit destroyed", "unit", id, "subtree", len(subtree), "reason", reason)
	return nil
}

// collectSubtree gathers the unit and all descendants before destruction
// detaches them.
func collectSubtree(u *Unit) []*Unit {
	out := []*Unit{u}
	for _, child := range u.Children() {
		out = append(out, collectSubtree(child)...)
	}
	return out
}

// Monitor returns the framework's health monitor.
func (f *Framework) Monitor() *Monitor { return f.monitor }

// onTransition is installed as every unit's transition hook.
func (f *Framework) onTransition(u *Unit, from, to LifecycleState) {
	f.recorder.Transition(from.String(), to.String())

	if f.saver != nil {
		f.saver.SaveNow(u)
	}
	if f.distributor != nil {
		f.distributor.Publish(u)
	}

	f.emit(EventTypeUnitTransitioned, u.ID(), map[string]any{
		"from":     from.String(),
		"to":       to.String(),
		"revision": u.Revision(),
	})
	f.logger.Debug("unit transitioned",
		"unit", u.ID(), "from", from.String(), "to", to.String())
}

// onProperty is installed as every unit's property hook.
func (f *Framework) onProperty(u *Unit, key string) {
	if f.saver != nil {
		f.saver.SaveThrottled(u)
	}
}

func (f *Framework) onAssessed(u *Unit, a *HealthAssessment) {
	f.recorder.Assessment(a.Status.String())
	f.emit(EventTypeHealthEvaluated, u.ID(), map[string]any{
		"status":   a.Status.String(),
		"warnings": a.Warnings,
	})
}

func (f *Framework) onExhausted(u *Unit) {
	f.recorder.RecoveryExhausted()
	f.emit(EventTypeRecoveryExhausted, u.ID(), nil)
}

// emit publishes a runtime event to the observer bus. Emission is best
// effort and never fails the triggering operation; a malformed event is
// dropped rather than handed to observers.
func (f *Framework) emit(eventType, unitID string, data map[string]any) {
	event := NewCloudEvent(eventType, "cellular/"+unitID, data, nil)
	if err := ValidateCloudEvent(event); err != nil {
		f.logger.Debug("dropping malformed event", "eventType", eventType, "unit", unitID, "error", err)
		return
	}
	_ = f.NotifyObservers(context.Background(), event)
}
