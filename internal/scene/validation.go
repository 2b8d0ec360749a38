package scene

import (
	"fmt"

	"github.com/nerrad567/gray-logic-rules/internal/predicate"
)

// Validation constants.
const (
	maxNameLength = 100
	maxSteps      = 100
)

// ValidateScene checks a single scene's shape. Reference integrity and
// cycles need the whole scene set and are checked by Graph.Validate.
func ValidateScene(s *Scene) error {
	if s == nil {
		return ErrInvalidScene
	}
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidScene)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidScene, maxNameLength)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: scene %q has no steps", ErrInvalidScene, s.ID)
	}
	if len(s.Steps) > maxSteps {
		return fmt.Errorf("%w: scene %q exceeds maximum of %d steps", ErrInvalidScene, s.ID, maxSteps)
	}

	for i := range s.Steps {
		if err := ValidateStep(s.Steps[i]); err != nil {
			return fmt.Errorf("scene %q step %d: %w", s.ID, i, err)
		}
	}
	return nil
}

// ValidateStep checks a device or scene step.
func ValidateStep(st Step) error {
	switch st.Type {
	case StepDevice:
		if st.DeviceID == "" {
			return fmt.Errorf("%w: deviceId is required", ErrInvalidStep)
		}
		if st.Action == "" {
			return fmt.Errorf("%w: action is required", ErrInvalidStep)
		}
		if st.SceneID != "" {
			return fmt.Errorf("%w: device step cannot set sceneId", ErrInvalidStep)
		}
		if st.WaitFor != nil {
			return validateWaitFor(st.WaitFor)
		}
		return nil

	case StepScene:
		if st.SceneID == "" {
			return fmt.Errorf("%w: sceneId is required", ErrInvalidStep)
		}
		if st.DeviceID != "" || st.Action != "" || st.WaitFor != nil {
			return fmt.Errorf("%w: scene step only takes sceneId", ErrInvalidStep)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidStep, st.Type)
}

func validateWaitFor(w *WaitFor) error {
	if w.TraitPath == "" {
		return fmt.Errorf("%w: wait_for.traitPath is required", ErrInvalidStep)
	}
	if !w.Operator.Valid() {
		return fmt.Errorf("%w: wait_for: %w: %q", ErrInvalidStep, predicate.ErrInvalidOperator, w.Operator)
	}
	if w.TimeoutMS <= 0 || w.TimeoutMS > MaxMillis {
		return fmt.Errorf("%w: wait_for.timeoutMs must be between 1 and %d", ErrInvalidStep, MaxMillis)
	}
	if w.PollMS < 0 || w.PollMS > MaxMillis {
		return fmt.Errorf("%w: wait_for.pollMs must be between 0 and %d", ErrInvalidStep, MaxMillis)
	}
	if w.OnTimeout != "" && w.OnTimeout != OnTimeoutAbort {
		return fmt.Errorf("%w: wait_for.on_timeout must be %q", ErrInvalidStep, OnTimeoutAbort)
	}
	return nil
}
