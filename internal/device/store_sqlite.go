package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore implements Store using SQLite.
//
// It keeps one row per device in the device_states table, with the whole
// snapshot document stored as JSON.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite snapshot store.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteStore: Store instance ready for use
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Save upserts the snapshot for a device.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - snap: Snapshot to persist; ID must be set
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSnapshot)
	}

	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO device_states (device_id, snapshot, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		snap.ID,
		string(doc),
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device state: %w", err)
	}

	return nil
}

// LoadAll returns every stored snapshot ordered by device id.
//
// Rows that no longer decode are skipped rather than failing the whole load,
// so one corrupt row cannot keep the engine from starting.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT device_id, snapshot FROM device_states ORDER BY device_id",
	)
	if err != nil {
		return nil, fmt.Errorf("querying device states: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scanning device state: %w", err)
		}

		snap, err := ParseSnapshot([]byte(doc))
		if err != nil || snap.ID != id {
			continue
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device states: %w", err)
	}

	return snaps, nil
}
