package automation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/predicate"
	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

func deviceStep(deviceID, action string) Step {
	return Step{Type: scene.StepDevice, DeviceID: deviceID, Action: action}
}

func validAutomation() *Automation {
	return &Automation{
		ID:      "hall-motion",
		Name:    "Hall motion",
		Trigger: DeviceTriggerFor(DeviceTrigger{DeviceID: StringList{"pir-hall"}, TraitPath: "traits.occupancy.occupied"}),
		Then:    []Step{deviceStep("light-hall", "turn_on")},
	}
}

func TestValidateAutomation(t *testing.T) {
	known := func(id string) bool { return id == "evening" }

	tests := []struct {
		name    string
		modify  func(a *Automation)
		wantErr error
	}{
		{"valid", func(*Automation) {}, nil},
		{"missing id", func(a *Automation) { a.ID = "" }, ErrInvalidAutomation},
		{"long name", func(a *Automation) { a.Name = strings.Repeat("x", 101) }, ErrInvalidAutomation},
		{"negative for", func(a *Automation) { a.ForMS = -1 }, ErrInvalidAutomation},
		{"negative cooldown", func(a *Automation) { a.CooldownMS = -1 }, ErrInvalidAutomation},
		{"for beyond duration range", func(a *Automation) { a.ForMS = scene.MaxMillis + 1 }, ErrInvalidAutomation},
		{"cooldown beyond duration range", func(a *Automation) { a.CooldownMS = 10_000_000_000_000 }, ErrInvalidAutomation},
		{"for at duration limit", func(a *Automation) { a.ForMS = scene.MaxMillis }, nil},
		{"empty then", func(a *Automation) { a.Then = nil }, ErrInvalidAutomation},
		{"bad step", func(a *Automation) { a.Then = []Step{{Type: scene.StepDevice, DeviceID: "x"}} }, scene.ErrInvalidStep},
		{"known scene", func(a *Automation) { a.Then = []Step{{Type: scene.StepScene, SceneID: "evening"}} }, nil},
		{"unknown scene", func(a *Automation) { a.Then = []Step{{Type: scene.StepScene, SceneID: "party"}} }, scene.ErrMissingReference},
		{"bad trigger", func(a *Automation) { a.Trigger = Trigger{Type: "sunrise"} }, ErrInvalidTrigger},
		{"bad condition", func(a *Automation) { a.When = &Condition{} }, ErrInvalidCondition},
		{"good condition", func(a *Automation) {
			c := All(TimeBetween("22:00", "06:00"), DeviceIs("lux", "traits.light.lux", predicate.OpLt, 50))
			a.When = &c
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAutomation()
			tt.modify(a)
			err := ValidateAutomation(a, known)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateAutomation() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAutomation() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAutomation_NoSceneCheck(t *testing.T) {
	a := validAutomation()
	a.Then = []Step{{Type: scene.StepScene, SceneID: "anything"}}
	if err := ValidateAutomation(a, nil); err != nil {
		t.Errorf("ValidateAutomation(nil lookup) error = %v", err)
	}
}

func TestValidateTrigger(t *testing.T) {
	tests := []struct {
		name    string
		trig    Trigger
		wantErr bool
	}{
		{"device any", DeviceTriggerFor(DeviceTrigger{}), false},
		{"device nil body", Trigger{Type: TriggerDevice}, true},
		{"changed needs path", DeviceTriggerFor(DeviceTrigger{Changed: true}), true},
		{"value needs operator", DeviceTriggerFor(DeviceTrigger{TraitPath: "traits.x", Value: 1, HasValue: true}), true},
		{"unknown operator", DeviceTriggerFor(DeviceTrigger{TraitPath: "traits.x", Operator: "approx"}), true},
		{"time ok", TimeTriggerAt("07:00", "21:30"), false},
		{"time empty", TimeTriggerAt(), true},
		{"time invalid", TimeTriggerAt("7"), true},
		{"interval ok", IntervalTriggerEvery(time.Second), false},
		{"interval zero", IntervalTriggerEvery(0), true},
		{"interval beyond duration range", Trigger{Type: TriggerInterval, Interval: &IntervalTrigger{EveryMS: 10_000_000_000_000}}, true},
		{"interval negative", Trigger{Type: TriggerInterval, Interval: &IntervalTrigger{EveryMS: -1}}, true},
		{"unknown", Trigger{Type: "webhook"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrigger(tt.trig)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateTrigger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTrigger) {
				t.Errorf("error %v does not wrap ErrInvalidTrigger", err)
			}
		})
	}
}

func TestValidateCondition_Depth(t *testing.T) {
	c := DeviceIs("d", "traits.x", predicate.OpEq, 1)
	for range maxDepth {
		c = Not(c)
	}
	if err := ValidateCondition(c); err != nil {
		t.Fatalf("depth %d rejected: %v", maxDepth, err)
	}
	if err := ValidateCondition(Not(c)); !errors.Is(err, ErrInvalidCondition) {
		t.Errorf("depth %d: error = %v, want ErrInvalidCondition", maxDepth+1, err)
	}
}

func TestValidateCondition_Nodes(t *testing.T) {
	bad := []Condition{
		TimeBetween("7am", ""),
		TimeBetween("", "24:00"),
		{Device: &DeviceCondition{DeviceID: "d"}},
		DeviceIs("d", "traits.x", "approx", 1),
		Any(All(), Condition{}),
	}
	for i, c := range bad {
		if err := ValidateCondition(c); !errors.Is(err, ErrInvalidCondition) {
			t.Errorf("case %d: error = %v, want ErrInvalidCondition", i, err)
		}
	}
}

func TestValidateAutomations_Duplicates(t *testing.T) {
	a := *validAutomation()
	b := *validAutomation()
	c := *validAutomation()
	c.ID = "other"
	c.Then = nil

	err := ValidateAutomations([]Automation{a, b, c}, nil)
	if err == nil {
		t.Fatal("ValidateAutomations() error = nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, `duplicate id "hall-motion"`) {
		t.Errorf("missing duplicate report in %q", msg)
	}
	if !strings.Contains(msg, `"other"`) {
		t.Errorf("missing invalid automation report in %q", msg)
	}
}

func TestDecode(t *testing.T) {
	doc := `{
		"id": "night-path",
		"trigger": {"type": "device", "deviceId": ["pir-hall", "pir-stairs"], "traitPath": "traits.occupancy.occupied", "operator": "eq", "value": true},
		"when": {"time": {"after": "22:00", "before": "06:00"}},
		"forMs": 200,
		"cooldownMs": 60000,
		"then": [
			{"type": "scene", "sceneId": "night-light"},
			{"type": "device", "deviceId": "lock-front", "action": "lock",
			 "wait_for": {"traitPath": "traits.lock.state", "operator": "eq", "value": "locked", "timeoutMs": 5000}}
		]
	}`

	a, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if a.ID != "night-path" || a.ForMS != 200 || a.CooldownMS != 60000 {
		t.Errorf("Decode() = %+v", a)
	}
	if !a.IsEnabled() {
		t.Error("absent enabled decoded as disabled")
	}
	if a.Trigger.Device == nil || len(a.Trigger.Device.DeviceID) != 2 || !a.Trigger.Device.HasValue {
		t.Errorf("trigger = %+v", a.Trigger.Device)
	}
	if len(a.Then) != 2 || a.Then[1].WaitFor == nil || a.Then[1].WaitFor.Timeout() != 5*time.Second {
		t.Errorf("then = %+v", a.Then)
	}
	if err := ValidateAutomation(a, func(string) bool { return true }); err != nil {
		t.Errorf("decoded automation invalid: %v", err)
	}
}

func TestDecode_SchemaViolations(t *testing.T) {
	docs := map[string]string{
		"not json":        `{`,
		"missing then":    `{"id":"a","trigger":{"type":"interval","everyMs":1000}}`,
		"bad trigger":     `{"id":"a","trigger":{"type":"sunset"},"then":[{"type":"device","deviceId":"d","action":"on"}]}`,
		"negative for":    `{"id":"a","trigger":{"type":"interval","everyMs":1000},"forMs":-5,"then":[{"type":"device","deviceId":"d","action":"on"}]}`,
		"bad operator":    `{"id":"a","trigger":{"type":"device","traitPath":"traits.x","operator":"~","value":1},"then":[{"type":"device","deviceId":"d","action":"on"}]}`,
		"everyMs overflow": `{"id":"a","trigger":{"type":"interval","everyMs":10000000000000},"then":[{"type":"device","deviceId":"d","action":"on"}]}`,
		"cooldown overflow": `{"id":"a","trigger":{"type":"interval","everyMs":1000},"cooldownMs":10000000000000,"then":[{"type":"device","deviceId":"d","action":"on"}]}`,
		"scene step args": `{"id":"a","trigger":{"type":"interval","everyMs":1000},"then":[{"type":"scene","sceneId":"s","action":"on"}]}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode([]byte(doc)); !errors.Is(err, ErrInvalidAutomation) {
				t.Errorf("Decode() error = %v, want ErrInvalidAutomation", err)
			}
		})
	}
}
