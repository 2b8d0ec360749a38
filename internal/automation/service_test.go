package automation

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-rules/internal/device"
	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

const testBundle = `{
	"scenes": [
		{"id": "evening", "name": "Evening", "steps": [
			{"type": "scene", "sceneId": "lamps"},
			{"type": "device", "deviceId": "blinds", "action": "close"}
		]},
		{"id": "lamps", "steps": [
			{"type": "device", "deviceId": "lamp-1", "action": "turn_on", "params": {"level": 40}},
			{"type": "device", "deviceId": "lamp-2", "action": "turn_on"}
		]}
	],
	"automations": [
		{"id": "dusk", "trigger": {"type": "device", "deviceId": "button"},
		 "then": [{"type": "scene", "sceneId": "evening"}]},
		{"id": "poll", "enabled": false, "trigger": {"type": "interval", "everyMs": 60000},
		 "then": [{"type": "device", "deviceId": "heater", "action": "refresh"}]}
	]
}`

func addSceneTable(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`
		CREATE TABLE scenes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			steps TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
	`)
	if err != nil {
		t.Fatalf("failed to create scenes table: %v", err)
	}
}

type serviceFixture struct {
	svc    *Service
	repo   *SQLiteRepository
	scenes *scene.Registry
	engine *testEngine
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	db := setupTestDB(t)
	addSceneTable(t, db)

	scenes := scene.NewRegistry(scene.NewSQLiteRepository(db))
	te := newTestEngine(t, scenes)
	repo := NewSQLiteRepository(db)
	return &serviceFixture{
		svc:    NewService(repo, scenes, te.Engine, nil),
		repo:   repo,
		scenes: scenes,
		engine: te,
	}
}

func (f *serviceFixture) activeIDs() []string {
	var ids []string
	for _, a := range f.engine.Automations() {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestService_Import(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res, err := f.svc.Import(ctx, []byte(testBundle))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Scenes != 2 || res.Automations != 2 {
		t.Errorf("Import() = %+v", res)
	}
	if ids := f.activeIDs(); len(ids) != 2 || ids[0] != "dusk" || ids[1] != "poll" {
		t.Fatalf("active automations = %v", ids)
	}

	f.engine.mustUpdate(t, device.NewSnapshot("button", nil))
	eventually(t, "scene commands", func() bool { return f.engine.pub.count() == 3 })
	f.engine.idle(t)

	cmds := f.engine.pub.commands()
	if cmds[0].DeviceID != "lamp-1" || cmds[0].SceneID != "evening" || cmds[0].Params["level"] != float64(40) {
		t.Errorf("first command = %+v", cmds[0])
	}
	if cmds[2].DeviceID != "blinds" || cmds[2].StepIndex != 2 {
		t.Errorf("last command = %+v", cmds[2])
	}

	// Importing again updates in place.
	res, err = f.svc.Import(ctx, []byte(testBundle))
	if err != nil {
		t.Fatalf("Import(again) error = %v", err)
	}
	if res.Scenes != 2 || res.Automations != 2 {
		t.Errorf("Import(again) = %+v", res)
	}
}

func TestService_ImportRejectsInvalidDocument(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	bundle := `{
		"scenes": [{"id": "ok", "steps": [{"type": "device", "deviceId": "d", "action": "on"}]}],
		"automations": [{"id": "broken", "trigger": {"type": "interval"}, "then": []}]
	}`
	if _, err := f.svc.Import(ctx, []byte(bundle)); !errors.Is(err, ErrInvalidAutomation) {
		t.Fatalf("Import() error = %v, want ErrInvalidAutomation", err)
	}
	if f.scenes.GetSceneCount() != 0 {
		t.Error("scenes written despite an invalid document")
	}
}

func TestService_ImportRejectsDanglingScene(t *testing.T) {
	f := newServiceFixture(t)

	bundle := `{"scenes": [{"id": "a", "steps": [{"type": "scene", "sceneId": "nowhere"}]}]}`
	if _, err := f.svc.Import(context.Background(), []byte(bundle)); !errors.Is(err, scene.ErrMissingReference) {
		t.Errorf("Import() error = %v, want ErrMissingReference", err)
	}
}

func TestService_ReloadSkipsInvalid(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	good := anyUpdateAutomation("good", "button")
	dangling := Automation{
		ID:      "dangling",
		Trigger: DeviceTriggerFor(DeviceTrigger{}),
		Then:    []Step{{Type: scene.StepScene, SceneID: "missing"}},
	}
	for _, a := range []*Automation{&good, &dangling} {
		if err := f.repo.Create(ctx, a); err != nil {
			t.Fatalf("Create(%s) error = %v", a.ID, err)
		}
	}

	n, err := f.svc.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Reload() = %d, want 1", n)
	}
	if ids := f.activeIDs(); len(ids) != 1 || ids[0] != "good" {
		t.Errorf("active automations = %v", ids)
	}
}

func TestService_DeleteScene(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Import(ctx, []byte(testBundle)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	_, err := f.svc.DeleteScene(ctx, "lamps", false)
	var depErr *scene.DependentsError
	if !errors.As(err, &depErr) || len(depErr.Dependents) != 1 || depErr.Dependents[0] != "evening" {
		t.Fatalf("DeleteScene(no cascade) error = %v", err)
	}

	res, err := f.svc.DeleteScene(ctx, "lamps", true)
	if err != nil {
		t.Fatalf("DeleteScene(cascade) error = %v", err)
	}
	if len(res.Scenes) != 2 || res.Scenes[0] != "lamps" || res.Scenes[1] != "evening" {
		t.Errorf("removed scenes = %v", res.Scenes)
	}
	if len(res.Automations) != 1 || res.Automations[0] != "dusk" {
		t.Errorf("removed automations = %v", res.Automations)
	}
	if f.scenes.GetSceneCount() != 0 {
		t.Errorf("%d scenes left", f.scenes.GetSceneCount())
	}

	if _, err := f.repo.GetByID(ctx, "dusk"); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("dusk still stored: GetByID() error = %v", err)
	}
	if ids := f.activeIDs(); len(ids) != 1 || ids[0] != "poll" {
		t.Errorf("active automations = %v", ids)
	}
}

func TestService_DeleteSceneRunByAutomation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Import(ctx, []byte(testBundle)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	_, err := f.svc.DeleteScene(ctx, "evening", false)
	var inUse *SceneInUseError
	if !errors.As(err, &inUse) || inUse.SceneID != "evening" || len(inUse.Automations) != 1 || inUse.Automations[0] != "dusk" {
		t.Fatalf("DeleteScene(no cascade) error = %v, want *SceneInUseError for dusk", err)
	}
	if !errors.Is(err, ErrSceneInUse) {
		t.Errorf("error %v does not wrap ErrSceneInUse", err)
	}

	// Nothing was touched by the refused delete.
	if f.scenes.GetSceneCount() != 2 {
		t.Errorf("%d scenes left, want 2", f.scenes.GetSceneCount())
	}
	if ids := f.activeIDs(); len(ids) != 2 {
		t.Errorf("active automations = %v", ids)
	}

	// Once the automation is gone the scene can be deleted on its own.
	if err := f.svc.DeleteAutomation(ctx, "dusk"); err != nil {
		t.Fatalf("DeleteAutomation() error = %v", err)
	}
	res, err := f.svc.DeleteScene(ctx, "evening", false)
	if err != nil {
		t.Fatalf("DeleteScene() error = %v", err)
	}
	if len(res.Scenes) != 1 || res.Scenes[0] != "evening" || len(res.Automations) != 0 {
		t.Errorf("DeleteScene() = %+v", res)
	}
	if !f.scenes.Exists("lamps") {
		t.Error("lamps removed with evening")
	}
}

func TestService_DeleteSceneCascadeRemovesAutomations(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Import(ctx, []byte(testBundle)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	res, err := f.svc.DeleteScene(ctx, "evening", true)
	if err != nil {
		t.Fatalf("DeleteScene(cascade) error = %v", err)
	}
	if len(res.Scenes) != 1 || res.Scenes[0] != "evening" {
		t.Errorf("removed scenes = %v", res.Scenes)
	}
	if len(res.Automations) != 1 || res.Automations[0] != "dusk" {
		t.Errorf("removed automations = %v", res.Automations)
	}

	list, err := f.repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != "poll" {
		t.Errorf("stored automations = %+v", list)
	}
}

func TestService_DeleteSceneNotFound(t *testing.T) {
	f := newServiceFixture(t)

	if _, err := f.svc.DeleteScene(context.Background(), "nope", false); !errors.Is(err, scene.ErrSceneNotFound) {
		t.Errorf("DeleteScene() error = %v, want ErrSceneNotFound", err)
	}
}

func TestService_DeleteAutomation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Import(ctx, []byte(testBundle)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if err := f.svc.DeleteAutomation(ctx, "poll"); err != nil {
		t.Fatalf("DeleteAutomation() error = %v", err)
	}
	if ids := f.activeIDs(); len(ids) != 1 || ids[0] != "dusk" {
		t.Errorf("active automations = %v", ids)
	}
	if err := f.svc.DeleteAutomation(ctx, "poll"); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("DeleteAutomation(missing) error = %v", err)
	}
}

func TestService_OfflineWithoutEngine(t *testing.T) {
	db := setupTestDB(t)
	addSceneTable(t, db)
	svc := NewService(NewSQLiteRepository(db), scene.NewRegistry(scene.NewSQLiteRepository(db)), nil, nil)

	res, err := svc.Import(context.Background(), []byte(testBundle))
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Automations != 2 {
		t.Errorf("Import() = %+v", res)
	}
}
