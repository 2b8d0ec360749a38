package automation

import (
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

// Step is one entry of an automation's then list: a device command or a
// scene reference. It shares its shape with scene steps.
type Step = scene.Step

// Automation is a trigger, an optional condition, optional debounce and
// cooldown windows, and an ordered list of steps.
type Automation struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`

	Trigger Trigger    `json:"trigger"`
	When    *Condition `json:"when,omitempty"`

	// ForMS requires the trigger and condition to hold for this long
	// before running (debounce).
	ForMS int64 `json:"forMs,omitempty"`

	// CooldownMS is the minimum spacing between runs.
	CooldownMS int64 `json:"cooldownMs,omitempty"`

	Then []Step `json:"then"`

	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// IsEnabled reports whether the automation is enabled. Absent means enabled.
func (a *Automation) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// For returns the debounce window.
func (a *Automation) For() time.Duration {
	return scene.Millis(a.ForMS)
}

// Cooldown returns the cooldown window.
func (a *Automation) Cooldown() time.Duration {
	return scene.Millis(a.CooldownMS)
}

// DeepCopy creates a complete independent copy of the Automation.
func (a *Automation) DeepCopy() *Automation {
	if a == nil {
		return nil
	}

	cpy := *a
	if a.Enabled != nil {
		v := *a.Enabled
		cpy.Enabled = &v
	}
	cpy.Trigger = a.Trigger.deepCopy()
	if a.When != nil {
		w := a.When.deepCopy()
		cpy.When = &w
	}
	if a.Then != nil {
		cpy.Then = make([]Step, len(a.Then))
		for i := range a.Then {
			cpy.Then[i] = a.Then[i].DeepCopy()
		}
	}
	return &cpy
}

// Command is a device command published by a run.
//
// SceneID is set when the step came from expanding a scene; StepIndex is
// then the position within the expanded scene, otherwise the position in
// the automation's then list.
type Command struct {
	DeviceID     string         `json:"deviceId"`
	Action       string         `json:"action"`
	Params       map[string]any `json:"params"`
	TS           time.Time      `json:"ts"`
	Actor        string         `json:"actor"`
	AutomationID string         `json:"automationId"`
	RunID        string         `json:"runId"`
	SceneID      string         `json:"sceneId,omitempty"`
	StepIndex    int            `json:"stepIndex"`
}

// TriggerContext describes what started a run.
type TriggerContext struct {
	Kind     TriggerType `json:"kind"`
	DeviceID string      `json:"deviceId,omitempty"`
}

// RunStatus is the outcome of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the audit record of one automation run.
type RunRecord struct {
	ID           string      `json:"id"`
	AutomationID string      `json:"automationId"`
	TriggerKind  TriggerType `json:"triggerKind"`
	DeviceID     string      `json:"deviceId,omitempty"`
	Status       RunStatus   `json:"status"`
	Error        string      `json:"error,omitempty"`
	Steps        int         `json:"steps"`
	StartedAt    time.Time   `json:"startedAt"`
	FinishedAt   time.Time   `json:"finishedAt"`
}

// Duration returns how long the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
