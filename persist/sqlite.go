package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cellular-dev/cellular"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	unit_id  TEXT PRIMARY KEY,
	version  INTEGER NOT NULL,
	data     BLOB NOT NULL,
	saved_at TEXT NOT NULL
);`

// SQLiteStore persists snapshots in a single SQLite database, one row per
// unit. The snapshot body is stored as JSON so schema migrations only touch
// the envelope columns.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and ensures
// the schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", cellular.ErrPersistenceFailure)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", cellular.ErrPersistenceFailure, path, err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ensuring schema: %v", cellular.ErrPersistenceFailure, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save implements cellular.SnapshotStore.
func (s *SQLiteStore) Save(ctx context.Context, snap cellular.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot %s: %v", cellular.ErrPersistenceFailure, snap.UnitID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (unit_id, version, data, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(unit_id) DO UPDATE SET
			version  = excluded.version,
			data     = excluded.data,
			saved_at = excluded.saved_at`,
		snap.UnitID, snap.Version, data, snap.SavedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	if err != nil {
		return fmt.Errorf("%w: saving snapshot %s: %v", cellular.ErrPersistenceFailure, snap.UnitID, err)
	}
	return nil
}

// Load implements cellular.SnapshotStore.
func (s *SQLiteStore) Load(ctx context.Context, unitID string) (cellular.Snapshot, error) {
	var (
		version int
		data    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data FROM snapshots WHERE unit_id = ?`, unitID).
		Scan(&version, &data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cellular.Snapshot{}, fmt.Errorf("%w: %s", cellular.ErrSnapshotNotFound, unitID)
		}
		return cellular.Snapshot{}, fmt.Errorf("%w: loading snapshot %s: %v", cellular.ErrPersistenceFailure, unitID, err)
	}
	if version != cellular.SnapshotVersion {
		return cellular.Snapshot{}, fmt.Errorf("%w: %d", cellular.ErrSnapshotVersion, version)
	}

	var snap cellular.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return cellular.Snapshot{}, fmt.Errorf("%w: decoding snapshot %s: %v", cellular.ErrPersistenceFailure, unitID, err)
	}
	return snap, nil
}

// Delete implements cellular.SnapshotStore.
func (s *SQLiteStore) Delete(ctx context.Context, unitID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE unit_id = ?`, unitID); err != nil {
		return fmt.Errorf("%w: deleting snapshot %s: %v", cellular.ErrPersistenceFailure, unitID, err)
	}
	return nil
}

// Close implements cellular.SnapshotStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
