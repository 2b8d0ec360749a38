package scene

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the scene package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, scene.ErrCycle) {
//	    // reject the edit
//	}
var (
	// ErrSceneNotFound is returned when a scene ID does not exist.
	ErrSceneNotFound = errors.New("scene: not found")

	// ErrSceneExists is returned when creating a scene with an ID that already exists.
	ErrSceneExists = errors.New("scene: already exists")

	// ErrInvalidScene is returned when scene validation fails.
	ErrInvalidScene = errors.New("scene: invalid")

	// ErrInvalidStep is returned when a step has an unknown type or missing fields.
	ErrInvalidStep = errors.New("scene: invalid step")

	// ErrMissingReference is returned when a step references a scene that does not exist.
	ErrMissingReference = errors.New("scene: missing reference")

	// ErrDuplicateID is returned when two scenes share an ID.
	ErrDuplicateID = errors.New("scene: duplicate id")

	// ErrCycle is returned when scene references form a cycle.
	ErrCycle = errors.New("invalid scene: cycle")

	// ErrHasDependents is returned when deleting a referenced scene without cascade.
	ErrHasDependents = errors.New("scene: has dependents")
)

// CycleError reports a reference cycle as the sequence of scene ids that
// form it, starting and ending with the same id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

// Unwrap allows errors.Is(err, ErrCycle).
func (e *CycleError) Unwrap() error { return ErrCycle }

// DependentsError is returned when a scene cannot be deleted because other
// scenes reference it directly.
type DependentsError struct {
	SceneID    string
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("%s: %q is referenced by %s", ErrHasDependents, e.SceneID, strings.Join(e.Dependents, ", "))
}

// Unwrap allows errors.Is(err, ErrHasDependents).
func (e *DependentsError) Unwrap() error { return ErrHasDependents }
