package device

import "context"

// Store persists the latest snapshot of every device.
//
// Implementations are safe for concurrent use.
type Store interface {
	// Save replaces the stored snapshot for snap.ID.
	Save(ctx context.Context, snap Snapshot) error

	// LoadAll returns every stored snapshot, ordered by device id.
	LoadAll(ctx context.Context) ([]Snapshot, error)
}
