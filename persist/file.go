package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cellular-dev/cellular"
)

// FileStore keeps one JSON file per unit in a directory. Writes go to a
// temporary file in the same directory followed by a rename, so a crash
// mid-write never leaves a corrupt snapshot behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty directory", cellular.ErrPersistenceFailure)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", cellular.ErrPersistenceFailure, err)
	}
	return &FileStore{dir: dir}, nil
}

// Save implements cellular.SnapshotStore.
func (s *FileStore) Save(_ context.Context, snap cellular.Snapshot) error {
	path, err := s.path(snap.UnitID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot %s: %v", cellular.ErrPersistenceFailure, snap.UnitID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", cellular.ErrPersistenceFailure, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: writing snapshot %s: %v", cellular.ErrPersistenceFailure, snap.UnitID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", cellular.ErrPersistenceFailure, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", cellular.ErrPersistenceFailure, err)
	}
	return nil
}

// Load implements cellular.SnapshotStore.
func (s *FileStore) Load(_ context.Context, unitID string) (cellular.Snapshot, error) {
	path, err := s.path(unitID)
	if err != nil {
		return cellular.Snapshot{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cellular.Snapshot{}, fmt.Errorf("%w: %s", cellular.ErrSnapshotNotFound, unitID)
		}
		return cellular.Snapshot{}, fmt.Errorf("%w: %v", cellular.ErrPersistenceFailure, err)
	}

	var snap cellular.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return cellular.Snapshot{}, fmt.Errorf("%w: decoding snapshot %s: %v", cellular.ErrPersistenceFailure, unitID, err)
	}
	if snap.Version != cellular.SnapshotVersion {
		return cellular.Snapshot{}, fmt.Errorf("%w: %d", cellular.ErrSnapshotVersion, snap.Version)
	}
	return snap, nil
}

// Delete implements cellular.SnapshotStore.
func (s *FileStore) Delete(_ context.Context, unitID string) error {
	path, err := s.path(unitID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", cellular.ErrPersistenceFailure, err)
	}
	return nil
}

// Close implements cellular.SnapshotStore. The file store holds no resources.
func (s *FileStore) Close() error { return nil }

// path maps a unit id onto a file inside the store directory, rejecting ids
// that would escape it.
func (s *FileStore) path(unitID string) (string, error) {
	if unitID == "" || strings.ContainsAny(unitID, `/\`) || strings.Contains(unitID, "..") {
		return "", fmt.Errorf("%w: invalid unit id %q", cellular.ErrPersistenceFailure, unitID)
	}
	return filepath.Join(s.dir, unitID+".json"), nil
}
