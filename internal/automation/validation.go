package automation

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

// Validation constants.
const (
	maxNameLength = 100
	maxSteps      = 100
	maxDepth      = 16
)

// ValidateAutomation checks one automation's shape. sceneExists, when
// non-nil, is used to reject references to unknown scenes.
func ValidateAutomation(a *Automation, sceneExists func(id string) bool) error {
	if a == nil {
		return ErrInvalidAutomation
	}
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAutomation)
	}
	if len(a.Name) > maxNameLength {
		return fmt.Errorf("%w: %q: name exceeds %d characters", ErrInvalidAutomation, a.ID, maxNameLength)
	}
	if a.ForMS < 0 || a.ForMS > scene.MaxMillis {
		return fmt.Errorf("%w: %q: forMs must be between 0 and %d", ErrInvalidAutomation, a.ID, scene.MaxMillis)
	}
	if a.CooldownMS < 0 || a.CooldownMS > scene.MaxMillis {
		return fmt.Errorf("%w: %q: cooldownMs must be between 0 and %d", ErrInvalidAutomation, a.ID, scene.MaxMillis)
	}

	if err := ValidateTrigger(a.Trigger); err != nil {
		return fmt.Errorf("automation %q: %w", a.ID, err)
	}
	if a.When != nil {
		if err := ValidateCondition(*a.When); err != nil {
			return fmt.Errorf("automation %q: %w", a.ID, err)
		}
	}

	if len(a.Then) == 0 {
		return fmt.Errorf("%w: %q: then must not be empty", ErrInvalidAutomation, a.ID)
	}
	if len(a.Then) > maxSteps {
		return fmt.Errorf("%w: %q: then exceeds %d steps", ErrInvalidAutomation, a.ID, maxSteps)
	}
	for i, st := range a.Then {
		if err := scene.ValidateStep(st); err != nil {
			return fmt.Errorf("automation %q then[%d]: %w", a.ID, i, err)
		}
		if st.Type == scene.StepScene && sceneExists != nil && !sceneExists(st.SceneID) {
			return fmt.Errorf("automation %q then[%d]: %w: %q", a.ID, i, scene.ErrMissingReference, st.SceneID)
		}
	}
	return nil
}

// ValidateAutomations validates every automation and checks ids are
// unique. All problems are reported together.
func ValidateAutomations(list []Automation, sceneExists func(id string) bool) error {
	var errs []error
	seen := make(map[string]bool, len(list))
	for i := range list {
		a := &list[i]
		if err := ValidateAutomation(a, sceneExists); err != nil {
			errs = append(errs, err)
		}
		if a.ID != "" {
			if seen[a.ID] {
				errs = append(errs, fmt.Errorf("%w: duplicate id %q", ErrInvalidAutomation, a.ID))
			}
			seen[a.ID] = true
		}
	}
	return errors.Join(errs...)
}

// ValidateTrigger checks the trigger body matches its type.
func ValidateTrigger(t Trigger) error {
	switch t.Type {
	case TriggerDevice:
		if t.Device == nil {
			return fmt.Errorf("%w: device trigger without body", ErrInvalidTrigger)
		}
		if t.Device.Changed && t.Device.TraitPath == "" {
			return fmt.Errorf("%w: changed requires traitPath", ErrInvalidTrigger)
		}
		if t.Device.HasValue && !t.Device.Operator.Valid() {
			return fmt.Errorf("%w: value requires a valid operator, got %q", ErrInvalidTrigger, t.Device.Operator)
		}
		if t.Device.Operator != "" && !t.Device.Operator.Valid() {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidTrigger, t.Device.Operator)
		}
		return nil

	case TriggerTime:
		if t.Time == nil || len(t.Time.At) == 0 {
			return fmt.Errorf("%w: time trigger needs at least one time", ErrInvalidTrigger)
		}
		for _, at := range t.Time.At {
			if _, err := dailySchedule(at); err != nil {
				return err
			}
		}
		return nil

	case TriggerInterval:
		if t.Interval == nil || t.Interval.EveryMS <= 0 || t.Interval.EveryMS > scene.MaxMillis {
			return fmt.Errorf("%w: everyMs must be between 1 and %d", ErrInvalidTrigger, scene.MaxMillis)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, t.Type)
}

// ValidateCondition checks every node of a condition tree is well formed.
func ValidateCondition(c Condition) error {
	return validateCondition(c, 0)
}

func validateCondition(c Condition, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: nested deeper than %d", ErrInvalidCondition, maxDepth)
	}

	switch c.Kind() {
	case ConditionAll:
		for i := range c.All {
			if err := validateCondition(c.All[i], depth+1); err != nil {
				return err
			}
		}
	case ConditionAny:
		for i := range c.Any {
			if err := validateCondition(c.Any[i], depth+1); err != nil {
				return err
			}
		}
	case ConditionNot:
		return validateCondition(*c.Not, depth+1)
	case ConditionTime:
		if c.Time.After != "" {
			if _, ok := parseClock(c.Time.After); !ok {
				return fmt.Errorf("%w: time.after %q is not HH:MM", ErrInvalidCondition, c.Time.After)
			}
		}
		if c.Time.Before != "" {
			if _, ok := parseClock(c.Time.Before); !ok {
				return fmt.Errorf("%w: time.before %q is not HH:MM", ErrInvalidCondition, c.Time.Before)
			}
		}
	case ConditionDevice:
		d := c.Device
		if d.DeviceID == "" || d.TraitPath == "" {
			return fmt.Errorf("%w: device condition needs deviceId and traitPath", ErrInvalidCondition)
		}
		if d.Operator != "" && !d.Operator.Valid() {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, d.Operator)
		}
	case ConditionInvalid:
		return fmt.Errorf("%w: node must set exactly one of all, any, not, time or a device comparison", ErrInvalidCondition)
	}
	return nil
}
