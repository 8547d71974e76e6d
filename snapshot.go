package cellular

import (
	"context"
	"fmt"
	"time"
)

// SnapshotVersion is the current snapshot record version. Stores refuse
// records with a version they do not understand.
const SnapshotVersion = 1

// Snapshot is the versioned persistence record for one unit: lifecycle state
// plus the full property map, keyed by unit identity. The revision counter
// rides along so restarts do not reset distributed precedence.
type Snapshot struct {
	Version    int                 `json:"version"`
	UnitID     string              `json:"unitId"`
	Name       string              `json:"name"`
	State      string              `json:"state"`
	Revision   uint64              `json:"revision"`
	Properties map[string]Property `json:"properties"`
	SavedAt    time.Time           `json:"savedAt"`
}

// TakeSnapshot captures the unit's current state and properties.
func TakeSnapshot(u *Unit) Snapshot {
	return Snapshot{
		Version:    SnapshotVersion,
		UnitID:     u.ID(),
		Name:       u.Name(),
		State:      u.State().String(),
		Revision:   u.Revision(),
		Properties: u.Properties().All(),
		SavedAt:    time.Now(),
	}
}

// LifecycleState decodes the snapshot's state field.
func (s Snapshot) LifecycleState() (LifecycleState, error) {
	if s.Version != SnapshotVersion {
		return 0, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	return ParseLifecycleState(s.State)
}

// SnapshotStore is the narrow save/load contract to the persistent store
// collaborator. There is no transactional guarantee beyond last-write-wins
// per unit id.
type SnapshotStore interface {
	// Save persists the snapshot, replacing any prior record for the unit.
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the stored snapshot for the unit, or ErrSnapshotNotFound
	// when none exists.
	Load(ctx context.Context, unitID string) (Snapshot, error)

	// Delete removes the stored snapshot for the unit. Deleting an absent
	// snapshot is a no-op.
	Delete(ctx context.Context, unitID string) error

	// Close releases store resources.
	Close() error
}
