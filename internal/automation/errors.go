package automation

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrWaitTimeout) {
//	    // device never reached the expected state
//	}
var (
	// ErrAutomationNotFound is returned when an automation ID does not exist.
	ErrAutomationNotFound = errors.New("automation: not found")

	// ErrAutomationExists is returned when creating an automation with an ID that already exists.
	ErrAutomationExists = errors.New("automation: already exists")

	// ErrInvalidAutomation is returned when automation validation fails.
	ErrInvalidAutomation = errors.New("automation: invalid")

	// ErrInvalidTrigger is returned when a trigger has an unknown type or bad fields.
	ErrInvalidTrigger = errors.New("automation: invalid trigger")

	// ErrInvalidCondition is returned when a condition tree has a malformed node.
	ErrInvalidCondition = errors.New("automation: invalid condition")

	// ErrEngineStopped is returned by engine operations after Stop, and
	// delivered to every wait_for still outstanding when Stop is called.
	ErrEngineStopped = errors.New("automation: engine stopped")

	// ErrAutomationRemoved is delivered to a run's outstanding wait_for when
	// its automation is removed from the active set.
	ErrAutomationRemoved = errors.New("automation: removed")

	// ErrSceneInUse is wrapped by *SceneInUseError.
	ErrSceneInUse = errors.New("automation: scene in use")

	// ErrWaitTimeout is wrapped by *WaitTimeoutError.
	ErrWaitTimeout = errors.New("automation: wait_for timeout")
)

// SceneInUseError is returned when a scene cannot be deleted because
// automations run it.
type SceneInUseError struct {
	SceneID     string
	Automations []string
}

func (e *SceneInUseError) Error() string {
	return fmt.Sprintf("%s: %q is run by %s", ErrSceneInUse, e.SceneID, strings.Join(e.Automations, ", "))
}

// Unwrap allows errors.Is(err, ErrSceneInUse).
func (e *SceneInUseError) Unwrap() error { return ErrSceneInUse }
