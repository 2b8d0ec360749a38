// Package device holds the normalised device state the automation engine
// reasons about.
//
// A Snapshot is the latest known state of one device: an id plus an
// arbitrary JSON tree of traits. Protocol bridges publish snapshots; the
// engine keeps only the latest one per device and reads trait values by
// dot-path ("traits.switch.state").
//
// # Persistence
//
// The engine's snapshot cache is in memory. A Store keeps the last snapshot
// of every device across restarts so the engine can be seeded before live
// updates arrive:
//
//   - SQLiteStore: device_states table in the core database
//   - RedisStore: one hash shared with other services on the same broker
//
// # Usage
//
//	store := device.NewSQLiteStore(db.DB)
//	snaps, err := store.LoadAll(ctx)
//	if err != nil {
//	    return err
//	}
//	engine.SeedDevices(snaps)
package device
