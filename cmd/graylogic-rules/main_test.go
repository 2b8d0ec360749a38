package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// writeConfig writes a minimal config pointing at dbPath and sets
// GRAYLOGIC_CONFIG for the duration of the test.
func writeConfig(t *testing.T, dbPath string) {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "test-config.yaml")
	configContent := `
site:
  id: test-site
  timezone: Europe/London

database:
  path: "` + dbPath + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
  qos: 1

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_CONFIG", configPath)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, nil)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

// TestRun_MissingDatabasePath verifies run fails when database path is empty.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, nil); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

// TestRun_InvalidFlags verifies flag errors are reported before anything
// is opened.
func TestRun_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-bogus"}},
		{"positional argument", []string{"extra"}},
		{"cascade without scene", []string{"-cascade"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args)
			if err == nil || !strings.Contains(err.Error(), "parsing flags") {
				t.Errorf("run(%v) = %v, want flag error", tt.args, err)
			}
		})
	}
}

const testBundle = `{
  "scenes": [
    {"id": "evening", "name": "Evening", "steps": [
      {"type": "device", "deviceId": "lounge-lamp", "action": "turn_on"},
      {"type": "scene", "sceneId": "porch"}
    ]},
    {"id": "porch", "name": "Porch", "steps": [
      {"type": "device", "deviceId": "porch-light", "action": "turn_on"}
    ]}
  ],
  "automations": [
    {
      "id": "dusk",
      "name": "Dusk",
      "trigger": {"type": "time", "at": "19:30"},
      "then": [{"type": "scene", "sceneId": "evening"}]
    }
  ]
}`

func countRows(t *testing.T, dbPath, table string) int {
	t.Helper()

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("opening %s: %v", dbPath, err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

// TestRun_AdminCommands imports a bundle and deletes from it without an
// MQTT broker; admin commands never connect to the bus.
func TestRun_AdminCommands(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "rules.db")
	bundlePath := filepath.Join(tmpDir, "bundle.json")
	if err := os.WriteFile(bundlePath, []byte(testBundle), 0600); err != nil {
		t.Fatalf("failed to write bundle: %v", err)
	}
	writeConfig(t, dbPath)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, []string{"-import", bundlePath}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := countRows(t, dbPath, "scenes"); got != 2 {
		t.Errorf("scenes after import = %d, want 2", got)
	}
	if got := countRows(t, dbPath, "automations"); got != 1 {
		t.Errorf("automations after import = %d, want 1", got)
	}

	// Re-importing the same bundle updates in place.
	if err := run(ctx, []string{"-import", bundlePath}); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if got := countRows(t, dbPath, "scenes"); got != 2 {
		t.Errorf("scenes after re-import = %d, want 2", got)
	}

	// porch is referenced by evening, so deleting it alone must fail.
	if err := run(ctx, []string{"-delete-scene", "porch"}); err == nil {
		t.Error("deleting a referenced scene without -cascade should fail")
	}

	// evening is run by dusk.
	err := run(ctx, []string{"-delete-scene", "evening"})
	if err == nil || !strings.Contains(err.Error(), "dusk") {
		t.Errorf("deleting a scene run by an automation = %v, want refusal naming dusk", err)
	}
	if got := countRows(t, dbPath, "scenes"); got != 2 {
		t.Errorf("scenes after refused delete = %d, want 2", got)
	}

	// Cascading from porch takes evening and the automation that runs it.
	if err := run(ctx, []string{"-delete-scene", "porch", "-cascade"}); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if got := countRows(t, dbPath, "scenes"); got != 0 {
		t.Errorf("scenes after cascade delete = %d, want 0", got)
	}
	if got := countRows(t, dbPath, "automations"); got != 0 {
		t.Errorf("automations after cascade delete = %d, want 0", got)
	}

	if err := run(ctx, []string{"-delete-automation", "dusk"}); err == nil {
		t.Error("deleting an already removed automation should fail")
	}
}

// TestRun_ImportMissingFile verifies a missing bundle file is reported.
func TestRun_ImportMissingFile(t *testing.T) {
	writeConfig(t, filepath.Join(t.TempDir(), "rules.db"))

	err := run(context.Background(), []string{"-import", "/nonexistent/bundle.json"})
	if err == nil {
		t.Fatal("run() should fail for a missing bundle")
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GRAYLOGIC_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}
