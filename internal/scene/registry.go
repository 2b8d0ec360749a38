package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Logger is the subset of *logging.Logger the registry writes to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards everything until SetLogger is called.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeleteOptions controls DeleteScene.
type DeleteOptions struct {
	// Cascade removes every scene that depends on the target, directly or
	// transitively, instead of refusing the delete.
	Cascade bool
}

// Registry is the scene set the engine expands from: a Repository behind an
// in-memory cache, with every write checked against the whole graph.
//
// Writes are validated against the whole scene set as it would be after
// the write, so the persisted graph never holds dangling references or
// cycles. Writes are serialised; reads share the cache.
type Registry struct {
	repo    Repository
	cache   map[string]*Scene
	cacheMu sync.RWMutex
	writeMu sync.Mutex
	logger  Logger
}

// NewRegistry returns an empty registry; call RefreshCache to load it.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Scene),
		logger: noopLogger{},
	}
}

// SetLogger replaces the no-op logger.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache replaces the cache with the repository contents.
// This should be called on application startup and on reload.
//
// A persisted set that fails graph validation is still loaded, since the
// engine guards against cycles at expansion time, but the problem is
// logged.
func (r *Registry) RefreshCache(ctx context.Context) error {
	scenes, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}

	if err := NewGraph(scenes).Validate(); err != nil {
		r.logger.Warn("stored scene set is invalid", "error", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Scene, len(scenes))
	for i := range scenes {
		r.cache[scenes[i].ID] = scenes[i].DeepCopy()
	}

	r.logger.Info("scene cache refreshed", "count", len(scenes))
	return nil
}

// GetScene returns a deep copy of a cached scene.
func (r *Registry) GetScene(_ context.Context, id string) (*Scene, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrSceneNotFound
}

// Exists reports whether a scene with id is cached.
func (r *Registry) Exists(id string) bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	_, ok := r.cache[id]
	return ok
}

// ListScenes returns deep copies of all scenes sorted by id.
func (r *Registry) ListScenes(_ context.Context) ([]Scene, error) {
	return r.snapshot(), nil
}

// Graph returns a graph over the current scene set.
func (r *Registry) Graph() *Graph {
	return NewGraph(r.snapshot())
}

func (r *Registry) snapshot() []Scene {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	scenes := make([]Scene, 0, len(r.cache))
	for _, s := range r.cache {
		scenes = append(scenes, *s.DeepCopy())
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].ID < scenes[j].ID })
	return scenes
}

// Expand flattens a scene into its device steps using the scene set as it
// is now, so edits take effect on the next call.
func (r *Registry) Expand(_ context.Context, id string) ([]Step, error) {
	return r.Graph().Expand(id)
}

// CreateScene rejects invalid steps, duplicate ids, dangling references
// and cycles before writing. A missing ID is generated.
func (r *Registry) CreateScene(ctx context.Context, scene *Scene) error {
	if scene == nil {
		return ErrInvalidScene
	}
	if scene.ID == "" {
		scene.ID = uuid.NewString()
	}
	if err := ValidateScene(scene); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.Exists(scene.ID) {
		return ErrSceneExists
	}
	if err := r.validateWith(scene); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, scene); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[scene.ID] = scene.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("scene created", "id", scene.ID, "name", scene.Name, "steps", len(scene.Steps))
	return nil
}

// UpdateScene applies the same checks as CreateScene to an existing id.
func (r *Registry) UpdateScene(ctx context.Context, scene *Scene) error {
	if err := ValidateScene(scene); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.Exists(scene.ID) {
		return ErrSceneNotFound
	}
	if err := r.validateWith(scene); err != nil {
		return err
	}

	if err := r.repo.Update(ctx, scene); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[scene.ID] = scene.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("scene updated", "id", scene.ID, "name", scene.Name, "steps", len(scene.Steps))
	return nil
}

// validateWith checks the graph that would result from writing candidate.
func (r *Registry) validateWith(candidate *Scene) error {
	scenes := r.snapshot()
	replaced := false
	for i := range scenes {
		if scenes[i].ID == candidate.ID {
			scenes[i] = *candidate.DeepCopy()
			replaced = true
		}
	}
	if !replaced {
		scenes = append(scenes, *candidate.DeepCopy())
	}
	return NewGraph(scenes).Validate()
}

// DeleteScene removes a scene.
//
// If other scenes reference id and opts.Cascade is false the delete is
// refused with a *DependentsError listing the direct dependents. With
// Cascade the scene and all of its transitive dependents are removed
// together.
//
// Returns:
//   - []string: ids removed, the target first
//   - error: ErrSceneNotFound, *DependentsError, or a repository error
func (r *Registry) DeleteScene(ctx context.Context, id string, opts DeleteOptions) ([]string, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.Exists(id) {
		return nil, ErrSceneNotFound
	}

	g := r.Graph()
	removed := []string{id}
	if deps := g.Dependents(id); len(deps) > 0 {
		if !opts.Cascade {
			return nil, &DependentsError{SceneID: id, Dependents: deps}
		}
		removed = append(removed, g.CascadeSet(id)...)
	}

	if err := r.repo.Delete(ctx, removed...); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	for _, rid := range removed {
		delete(r.cache, rid)
	}
	r.cacheMu.Unlock()

	r.logger.Info("scene deleted", "id", id, "removed", removed)
	return removed, nil
}

// GetSceneCount reports the cache size.
func (r *Registry) GetSceneCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
