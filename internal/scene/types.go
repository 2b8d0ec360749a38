package scene

import (
	"math"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/predicate"
)

// StepType distinguishes device commands from scene references.
type StepType string

const (
	StepDevice StepType = "device"
	StepScene  StepType = "scene"
)

// OnTimeoutAbort is the only supported wait_for timeout policy.
const OnTimeoutAbort = "abort"

// MaxMillis is the largest millisecond count that converts to a
// time.Duration without overflowing (about 292 years).
const MaxMillis = math.MaxInt64 / int64(time.Millisecond)

// Millis converts a millisecond count to a duration, saturating at
// MaxMillis so an oversized value can never wrap negative.
func Millis(ms int64) time.Duration {
	if ms > MaxMillis {
		ms = MaxMillis
	}
	return time.Duration(ms) * time.Millisecond
}

// Scene is a named, possibly nested, ordered list of steps.
type Scene struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Steps []Step `json:"steps"`

	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Step is one entry of a scene or of an automation's then list.
//
// Device steps set DeviceID, Action and optionally Params and WaitFor.
// Scene steps set only SceneID.
type Step struct {
	Type StepType `json:"type"`

	// Device step
	DeviceID string         `json:"deviceId,omitempty"`
	Action   string         `json:"action,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	WaitFor  *WaitFor       `json:"wait_for,omitempty"`

	// Scene step
	SceneID string `json:"sceneId,omitempty"`
}

// WaitFor blocks a run after its step was published until the same
// device's trait satisfies the comparison, or TimeoutMS elapses.
//
// PollMS is accepted for compatibility with stored documents; waiting is
// driven by device updates, not polling.
type WaitFor struct {
	TraitPath string             `json:"traitPath"`
	Operator  predicate.Operator `json:"operator"`
	Value     any                `json:"value"`
	TimeoutMS int64              `json:"timeoutMs"`
	PollMS    int64              `json:"pollMs,omitempty"`
	OnTimeout string             `json:"on_timeout,omitempty"`
}

// Timeout returns TimeoutMS as a duration.
func (w *WaitFor) Timeout() time.Duration {
	return Millis(w.TimeoutMS)
}

// DeepCopy creates a complete independent copy of the Scene.
// Step params are cloned so modifications to the copy do not affect the
// cached original.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}

	cpy := *s
	if s.Steps != nil {
		cpy.Steps = make([]Step, len(s.Steps))
		for i := range s.Steps {
			cpy.Steps[i] = s.Steps[i].DeepCopy()
		}
	}
	return &cpy
}

// DeepCopy returns an independent copy of the step.
func (st Step) DeepCopy() Step {
	cpy := st
	cpy.Params = deepCopyMap(st.Params)
	if st.WaitFor != nil {
		wf := *st.WaitFor
		wf.Value = deepCopyValue(st.WaitFor.Value)
		cpy.WaitFor = &wf
	}
	return cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
