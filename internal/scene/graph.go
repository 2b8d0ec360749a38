package scene

import (
	"fmt"
	"sort"
)

// Graph is an immutable view over a set of scenes and the references
// between them.
//
// A Graph is cheap to build and is not safe to mutate; build a new one
// whenever the scene set changes.
type Graph struct {
	scenes     map[string]*Scene
	ids        []string // insertion order, for deterministic traversal
	duplicates []string
	dependents map[string][]string // target -> scenes that reference it
}

// NewGraph builds a graph over scenes. Duplicate ids keep the first
// definition and are reported by Validate.
func NewGraph(scenes []Scene) *Graph {
	g := &Graph{
		scenes:     make(map[string]*Scene, len(scenes)),
		ids:        make([]string, 0, len(scenes)),
		dependents: make(map[string][]string),
	}

	for i := range scenes {
		s := &scenes[i]
		if _, dup := g.scenes[s.ID]; dup {
			g.duplicates = append(g.duplicates, s.ID)
			continue
		}
		g.scenes[s.ID] = s
		g.ids = append(g.ids, s.ID)
	}

	for _, id := range g.ids {
		seen := make(map[string]bool)
		for _, target := range g.references(id) {
			if seen[target] {
				continue
			}
			seen[target] = true
			g.dependents[target] = append(g.dependents[target], id)
		}
	}
	for target := range g.dependents {
		sort.Strings(g.dependents[target])
	}

	return g
}

// Has reports whether a scene with id exists.
func (g *Graph) Has(id string) bool {
	_, ok := g.scenes[id]
	return ok
}

// references returns the scene ids referenced by id's steps, in step order.
func (g *Graph) references(id string) []string {
	s := g.scenes[id]
	if s == nil {
		return nil
	}
	var refs []string
	for _, st := range s.Steps {
		if st.Type == StepScene {
			refs = append(refs, st.SceneID)
		}
	}
	return refs
}

// Validate checks the whole scene set: unique ids, every scene-step target
// exists, and the reference graph is acyclic. Cycles are reported as a
// *CycleError carrying the cycle path.
func (g *Graph) Validate() error {
	if len(g.duplicates) > 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateID, g.duplicates[0])
	}

	for _, id := range g.ids {
		for i, st := range g.scenes[id].Steps {
			if st.Type == StepScene && !g.Has(st.SceneID) {
				return fmt.Errorf("%w: scene %q step %d references %q", ErrMissingReference, id, i, st.SceneID)
			}
		}
	}

	return g.detectCycle()
}

// detectCycle runs a depth-first search with visiting/visited sets over
// every scene, so cycles unreachable from any particular root are found too.
func (g *Graph) detectCycle() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			start := 0
			for i, s := range stack {
				if s == id {
					start = i
					break
				}
			}
			path := append([]string{}, stack[start:]...)
			return append(path, id)
		}

		visiting[id] = true
		stack = append(stack, id)
		for _, ref := range g.references(id) {
			if !g.Has(ref) {
				continue
			}
			if cycle := visit(ref); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		visiting[id] = false
		visited[id] = true
		return nil
	}

	for _, id := range g.ids {
		if cycle := visit(id); cycle != nil {
			return &CycleError{Path: cycle}
		}
	}
	return nil
}

// Expand flattens a scene into its device steps, inlining referenced
// scenes depth-first and preserving step order. Device steps are copied
// with Params defaulted to an empty map and WaitFor carried over.
//
// Re-entering a scene that is already being expanded returns a
// *CycleError, even if the set was never validated.
func (g *Graph) Expand(id string) ([]Step, error) {
	if !g.Has(id) {
		return nil, fmt.Errorf("%w: %q", ErrSceneNotFound, id)
	}
	var out []Step
	if err := g.expand(id, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// expand walks id with path holding the scenes currently on the call stack.
func (g *Graph) expand(id string, path []string, out *[]Step) error {
	for _, p := range path {
		if p == id {
			return &CycleError{Path: append(append([]string{}, path...), id)}
		}
	}

	s, ok := g.scenes[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrMissingReference, id)
	}
	path = append(path, id)

	for i, st := range s.Steps {
		switch st.Type {
		case StepDevice:
			cpy := st.DeepCopy()
			if cpy.Params == nil {
				cpy.Params = map[string]any{}
			}
			*out = append(*out, cpy)
		case StepScene:
			if err := g.expand(st.SceneID, path, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("scene %q step %d: %w: unknown type %q", id, i, ErrInvalidStep, st.Type)
		}
	}
	return nil
}

// Dependents returns the ids of scenes that reference id directly, sorted.
func (g *Graph) Dependents(id string) []string {
	deps := g.dependents[id]
	if len(deps) == 0 {
		return nil
	}
	return append([]string{}, deps...)
}

// CascadeSet returns every scene that depends on id directly or
// transitively, in breadth-first order. id itself is not included.
func (g *Graph) CascadeSet(id string) []string {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[cur] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			queue = append(queue, dep)
		}
	}
	return out
}
