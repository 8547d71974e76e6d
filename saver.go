package cellular

import (
	"context"
	"sync"
	"time"
)

const (
	saverQueueSize  = 256
	saveTimeout     = 5 * time.Second
	defaultThrottle = 2 * time.Second
)

// Saver snapshots units to a SnapshotStore on an asynchronous worker so that
// state-changing call paths never wait on disk I/O. Transitions always save;
// property-only changes are throttled per unit to avoid write amplification
// from high-frequency metric updates. Failed saves are logged and retried on
// the next mutation, never in a tight loop.
type Saver struct {
	store    SnapshotStore
	logger   Logger
	throttle time.Duration

	queue chan *Unit

	mu       sync.Mutex
	lastSave map[string]time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSaver creates a saver writing to the given store and starts its worker.
// A throttle of zero uses the default.
func NewSaver(store SnapshotStore, logger Logger, throttle time.Duration) (*Saver, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	if throttle <= 0 {
		throttle = defaultThrottle
	}

	s := &Saver{
		store:    store,
		logger:   logger,
		throttle: throttle,
		queue:    make(chan *Unit, saverQueueSize),
		lastSave: make(map[string]time.Time),
		stop:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.worker()
	return s, nil
}

// SaveNow enqueues an immediate snapshot of the unit. Used on every state
// transition. The call never blocks; when the queue is full the save is
// dropped and will happen on the next mutation.
func (s *Saver) SaveNow(u *Unit) {
	select {
	case s.queue <- u:
	default:
		s.logger.Error("save queue full, dropping snapshot", "unit", u.ID())
	}
}

// SaveThrottled enqueues a snapshot unless the unit was saved within the
// throttle window. Used for property-only changes.
func (s *Saver) SaveThrottled(u *Unit) {
	s.mu.Lock()
	last, ok := s.lastSave[u.ID()]
	s.mu.Unlock()

	if ok && time.Since(last) < s.throttle {
		return
	}
	s.SaveNow(u)
}

// Forget drops throttle bookkeeping for a destroyed unit and removes its
// stored snapshot.
func (s *Saver) Forget(u *Unit) {
	s.mu.Lock()
	delete(s.lastSave, u.ID())
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, u.ID()); err != nil {
		s.logger.Error("failed to delete snapshot", "unit", u.ID(), "error", err)
	}
}

// Stop drains the queue and stops the worker.
func (s *Saver) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Saver) worker() {
	defer s.wg.Done()

	for {
		select {
		case u := <-s.queue:
			s.persist(u)
		case <-s.stop:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case u := <-s.queue:
					s.persist(u)
				default:
					return
				}
			}
		}
	}
}

func (s *Saver) persist(u *Unit) {
	snap := TakeSnapshot(u)

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.store.Save(ctx, snap); err != nil {
		// Best-effort side channel: log and rely on the next mutation to
		// enqueue another save.
		s.logger.Error("snapshot save failed",
			"unit", u.ID(), "state", snap.State, "error", err)
		return
	}

	s.mu.Lock()
	s.lastSave[u.ID()] = time.Now()
	s.mu.Unlock()

	s.logger.Debug("snapshot saved", "unit", u.ID(), "state", snap.State, "revision", snap.Revision)
}
