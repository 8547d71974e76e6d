package cellular

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	publishQueueSize      = 256
	publishTimeout        = 5 * time.Second
	defaultReconcileEvery = 5 * time.Second
)

// Announcement is the versioned record published for a unit's state. The
// revision counter carries the last-writer-wins precedence; Origin identifies
// the publishing replica so a replica can ignore its own announcements when
// the channel loops them back.
type Announcement struct {
	UnitID    string    `json:"unitId"`
	State     string    `json:"state"`
	Revision  uint64    `json:"revision"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// RemoteHandler is invoked by a Channel when a remote announcement arrives.
type RemoteHandler func(ctx context.Context, ann Announcement)

// ChannelSubscription is the cancellation handle for a channel subscription.
type ChannelSubscription interface {
	Cancel() error
}

// Channel is the external message bus / gossip collaborator. Delivery is
// at-least-once and unordered across units; no component other than the
// distributor holds a reference to it.
type Channel interface {
	// Publish sends a fire-and-forget announcement.
	Publish(ctx context.Context, ann Announcement) error

	// Subscribe registers a handler for remote announcements.
	Subscribe(handler RemoteHandler) (ChannelSubscription, error)

	// Close releases channel resources.
	Close() error
}

// ReplicaRole controls the conflict rule during reconciliation.
type ReplicaRole int

const (
	// ReplicaActive replicas keep their local state unless the remote
	// revision is strictly higher.
	ReplicaActive ReplicaRole = iota

	// ReplicaPassive replicas always accept remote state.
	ReplicaPassive
)

// DistributorConfig configures distribution and reconciliation.
type DistributorConfig struct {
	// Origin is this replica's identity, stamped on every announcement.
	Origin string `yaml:"origin" toml:"origin" json:"origin"`

	// Role decides the conflict rule; passive replicas mirror remote state.
	Role ReplicaRole `yaml:"role" toml:"role" json:"role"`

	// ReconcileEvery is the period of the background reconciliation loop
	// that re-publishes local state to converge remote replicas.
	ReconcileEvery time.Duration `yaml:"reconcileEvery" toml:"reconcile_every" json:"reconcileEvery"`
}

// Distributor publishes local state changes to a pluggable channel and
// reconciles remote announcements back into local state. Convergence is
// eventual: replicas may transiently disagree but converge given enough
// reconciliation rounds and no further mutation. There is no transaction
// boundary spanning local state and the publish; publish failures are logged
// and retried on the next local change and the next reconciliation round.
type Distributor struct {
	config  DistributorConfig
	channel Channel
	logger  Logger

	// resolve looks a unit up by id in the owning registry; units returns
	// every local unit for the reconciliation sweep.
	resolve func(unitID string) (*Unit, bool)
	units   func() []*Unit

	queue chan Announcement
	sub   ChannelSubscription

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewDistributor creates a distributor over the given channel. The resolve
// and units callbacks are supplied by the owning framework.
func NewDistributor(config DistributorConfig, channel Channel, resolve func(string) (*Unit, bool), units func() []*Unit, logger Logger) (*Distributor, error) {
	if channel == nil {
		return nil, ErrChannelNil
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	if config.ReconcileEvery <= 0 {
		config.ReconcileEvery = defaultReconcileEvery
	}

	return &Distributor{
		config:  config,
		channel: channel,
		logger:  logger,
		resolve: resolve,
		units:   units,
		queue:   make(chan Announcement, publishQueueSize),
		stop:    make(chan struct{}),
	}, nil
}

// Start subscribes to the channel and starts the publish worker and the
// reconciliation loop.
func (d *Distributor) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	sub, err := d.channel.Subscribe(d.onRemote)
	if err != nil {
		return err
	}
	d.sub = sub
	d.running = true

	d.wg.Add(2)
	go d.publishWorker()
	go d.reconcileLoop()

	d.logger.Info("distributor started",
		"origin", d.config.Origin, "reconcileEvery", d.config.ReconcileEvery.String())
	return nil
}

// Stop cancels the subscription and stops the workers. It is idempotent.
func (d *Distributor) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	sub := d.sub
	d.mu.Unlock()

	if sub != nil {
		_ = sub.Cancel()
	}
	d.wg.Wait()
}

// Publish enqueues a fire-and-forget announcement of the unit's current
// state. The caller never waits on the channel; when the queue is full the
// announcement is dropped and the reconciliation loop covers the gap.
func (d *Distributor) Publish(u *Unit) {
	ann := Announcement{
		UnitID:    u.ID(),
		State:     u.State().String(),
		Revision:  u.Revision(),
		Origin:    d.config.Origin,
		Timestamp: time.Now(),
	}

	select {
	case d.queue <- ann:
	case <-d.stop:
	default:
		d.logger.Debug("publish queue full, dropping announcement", "unit", u.ID())
	}
}

// onRemote applies a remote announcement under the conflict rule: accept the
// remote state only when it is more authoritative — a strictly higher
// revision, or this replica is passive. A stale remote announcement triggers
// a re-publish of local state so the remote side converges.
func (d *Distributor) onRemote(ctx context.Context, ann Announcement) {
	if ann.Origin == d.config.Origin {
		return
	}

	u, ok := d.resolve(ann.UnitID)
	if !ok {
		d.logger.Debug("remote announcement for unknown unit", "unit", ann.UnitID)
		return
	}

	state, err := ParseLifecycleState(ann.State)
	if err != nil {
		d.logger.Error("remote announcement with invalid state",
			"unit", ann.UnitID, "state", ann.State, "error", err)
		return
	}

	local := u.Revision()
	authoritative := ann.Revision > local || d.config.Role == ReplicaPassive

	if !authoritative {
		// Equal revisions mean the replicas have converged; only a strictly
		// stale announcement warrants pushing local state back.
		if ann.Revision < local {
			d.logger.Debug("stale remote announcement, re-publishing local state",
				"unit", ann.UnitID, "remoteRevision", ann.Revision, "localRevision", local)
			d.Publish(u)
		}
		return
	}

	u.applyRemote(state, ann.Revision)
	d.logger.Info("applied remote state",
		"unit", ann.UnitID, "state", ann.State, "revision", ann.Revision, "origin", ann.Origin)
}

func (d *Distributor) publishWorker() {
	defer d.wg.Done()

	for {
		select {
		case ann := <-d.queue:
			d.sendLogged(ann)
		case <-d.stop:
			for {
				select {
				case ann := <-d.queue:
					d.sendLogged(ann)
				default:
					return
				}
			}
		}
	}
}

// sendLogged is the worker-side wrapper: delivery is best-effort, so failures
// are logged and covered by the next local change or reconciliation round,
// never retried in a tight loop.
func (d *Distributor) sendLogged(ann Announcement) {
	if err := d.send(ann); err != nil {
		d.logger.Error("publish failed", "unit", ann.UnitID, "error", err)
	}
}

func (d *Distributor) send(ann Announcement) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := d.channel.Publish(ctx, ann); err != nil {
		return fmt.Errorf("%w: unit %s: %w", ErrPublishFailure, ann.UnitID, err)
	}
	return nil
}

// reconcileLoop periodically re-publishes every local unit's state so that
// replicas converge even when individual announcements were lost or dropped.
func (d *Distributor) reconcileLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.ReconcileEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if d.units == nil {
				continue
			}
			for _, u := range d.units() {
				d.Publish(u)
			}
		case <-d.stop:
			return
		}
	}
}
