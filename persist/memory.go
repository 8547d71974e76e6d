package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/cellular-dev/cellular"
)

// MemoryStore keeps snapshots in a map. It exists for tests and ephemeral
// runs; nothing survives the process.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]cellular.Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]cellular.Snapshot)}
}

// Save implements cellular.SnapshotStore.
func (s *MemoryStore) Save(_ context.Context, snap cellular.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.UnitID] = snap
	return nil
}

// Load implements cellular.SnapshotStore.
func (s *MemoryStore) Load(_ context.Context, unitID string) (cellular.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snaps[unitID]
	if !ok {
		return cellular.Snapshot{}, fmt.Errorf("%w: %s", cellular.ErrSnapshotNotFound, unitID)
	}
	return snap, nil
}

// Delete implements cellular.SnapshotStore.
func (s *MemoryStore) Delete(_ context.Context, unitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, unitID)
	return nil
}

// Close implements cellular.SnapshotStore.
func (s *MemoryStore) Close() error { return nil }

// Len reports how many snapshots are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}
