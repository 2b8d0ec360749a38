package database

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260301_090000_create_rooms.up.sql": {Data: []byte(
			"CREATE TABLE rooms (id TEXT PRIMARY KEY) STRICT;")},
		"20260301_090000_create_rooms.down.sql": {Data: []byte(
			"DROP TABLE rooms;")},
		"20260302_100000_create_lamps.up.sql": {Data: []byte(
			"CREATE TABLE lamps (id TEXT PRIMARY KEY, room_id TEXT REFERENCES rooms(id)) STRICT;")},
		"20260302_100000_create_lamps.down.sql": {Data: []byte(
			"DROP TABLE lamps;")},
		"README.md": {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d, want 2", n)
	}
	for _, table := range []string{"rooms", "lamps"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s not created", table)
		}
	}

	n, err = db.Migrate(ctx, testMigrations())
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate() applied %d, want 0", n)
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := testMigrations()
	fsys["20260303_110000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE (")}

	n, err := db.Migrate(ctx, fsys)
	if err == nil {
		t.Fatal("Migrate() should fail on broken migration")
	}
	if n != 2 {
		t.Errorf("Migrate() applied %d before failing, want 2", n)
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("status = %d applied / %d pending, want 2 / 1", len(applied), len(pending))
	}
	if pending[0].Name != "broken" {
		t.Errorf("pending name = %q, want broken", pending[0].Name)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, testMigrations()); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "lamps") {
		t.Error("lamps should be dropped")
	}
	if !tableExists(t, db, "rooms") {
		t.Error("rooms should remain")
	}

	applied, _, err := db.MigrationStatus(ctx, testMigrations())
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "20260301_090000" {
		t.Errorf("applied = %+v, want only 20260301_090000", applied)
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not parsed")
	}
}

func TestMigrateDownNothingApplied(t *testing.T) {
	db := openTestDB(t)
	if err := db.MigrateDown(context.Background(), testMigrations()); err != nil {
		t.Errorf("MigrateDown() on empty database error = %v", err)
	}
}

func TestMigrateDownMissingFile(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Migrate(ctx, testMigrations()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	fsys := testMigrations()
	delete(fsys, "20260302_100000_create_lamps.up.sql")
	delete(fsys, "20260302_100000_create_lamps.down.sql")

	err := db.MigrateDown(ctx, fsys)
	if !errors.Is(err, ErrMigrationNotFound) {
		t.Errorf("MigrateDown() error = %v, want ErrMigrationNotFound", err)
	}
}

func TestLoadMigrations(t *testing.T) {
	t.Run("sorted and paired", func(t *testing.T) {
		got, err := LoadMigrations(testMigrations())
		if err != nil {
			t.Fatalf("LoadMigrations() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d migrations, want 2", len(got))
		}
		if got[0].Version != "20260301_090000" || got[1].Version != "20260302_100000" {
			t.Errorf("order = %s, %s", got[0].Version, got[1].Version)
		}
		if got[0].DownSQL == "" {
			t.Error("down SQL not paired")
		}
	})

	t.Run("orphan down file", func(t *testing.T) {
		fsys := fstest.MapFS{
			"20260301_090000_x.down.sql": {Data: []byte("DROP TABLE x;")},
		}
		if _, err := LoadMigrations(fsys); err == nil {
			t.Error("LoadMigrations() should reject a down file without an up file")
		}
	})

	t.Run("nil filesystem", func(t *testing.T) {
		got, err := LoadMigrations(nil)
		if err != nil || got != nil {
			t.Errorf("LoadMigrations(nil) = %v, %v", got, err)
		}
	})
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260301_090000_create_scenes.up.sql", "20260301_090000", "create_scenes", true, true},
		{"20260301_090000_create_scenes.down.sql", "20260301_090000", "create_scenes", false, true},
		{"20260301_090000.up.sql", "20260301_090000", "20260301_090000", true, true},
		{"20260301_090000_create_scenes.sql", "", "", false, false},
		{"create_scenes.up.sql", "", "", false, false},
		{"2026_09_x.up.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
