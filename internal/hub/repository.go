package hub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rowanhale/hearth-core/internal/capability"
)

// StoredDevice is one persisted device record: the latest snapshot and the
// revision it was stored at. History is out of scope; only the latest
// snapshot per device is kept.
type StoredDevice struct {
	DeviceID string
	Snapshot *capability.Snapshot
	Revision uint64
}

// Repository defines the persistence interface for warm-start snapshots.
// This abstraction allows different implementations (SQLite, mock) and
// enables unit testing without database dependencies.
type Repository interface {
	// LoadAll retrieves every persisted device record.
	LoadAll(ctx context.Context) ([]StoredDevice, error)

	// SaveSnapshot upserts the latest snapshot for a device.
	SaveSnapshot(ctx context.Context, id string, snap *capability.Snapshot, revision uint64) error

	// Delete removes a device record.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations
// applied; snapshots live in the device_snapshots table, stored as JSON
// documents keyed by device id, with a schema column stamping the snapshot
// layout version for forward migration.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadAll retrieves every persisted device record.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]StoredDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, snapshot, revision FROM device_snapshots ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []StoredDevice
	for rows.Next() {
		var (
			id       string
			blob     string
			revision uint64
		)
		if err := rows.Scan(&id, &blob, &revision); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}

		var snap capability.Snapshot
		if err := json.Unmarshal([]byte(blob), &snap); err != nil {
			return nil, fmt.Errorf("unmarshalling snapshot for %s: %w", id, err)
		}
		out = append(out, StoredDevice{DeviceID: id, Snapshot: &snap, Revision: revision})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot rows: %w", err)
	}
	return out, nil
}

// SaveSnapshot upserts the latest snapshot for a device.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, id string, snap *capability.Snapshot, revision uint64) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_snapshots (device_id, vendor, kind, snapshot, revision, schema, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			vendor = excluded.vendor,
			kind = excluded.kind,
			snapshot = excluded.snapshot,
			revision = excluded.revision,
			schema = excluded.schema,
			updated_at = excluded.updated_at`,
		id,
		snap.Identity.Vendor,
		string(snap.Identity.Kind),
		string(blob),
		revision,
		snap.Schema,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting snapshot for %s: %w", id, err)
	}
	return nil
}

// Delete removes a device record.
// Deleting an unknown id is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM device_snapshots WHERE device_id = ?`, id); err != nil {
		return fmt.Errorf("deleting snapshot for %s: %w", id, err)
	}
	return nil
}
