package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

// Service connects persisted automations and scenes to a running engine.
//
// The store layer is where validation happens: Reload hands the engine
// only automations that pass ValidateAutomation against the current scene
// set, so the engine never sees a dangling scene reference.
type Service struct {
	repo   Repository
	scenes *scene.Registry
	engine *Engine
	logger Logger
}

// NewService creates a service. engine may be nil for offline
// administration (import, delete) where nothing is running.
func NewService(repo Repository, scenes *scene.Registry, engine *Engine, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{repo: repo, scenes: scenes, engine: engine, logger: logger}
}

// Reload refreshes the scene cache, loads every automation and hands the
// valid ones to the engine. Invalid automations are skipped with a warning
// so one bad definition cannot disable the rest.
//
// Returns:
//   - int: number of automations handed to the engine
//   - error: repository or engine failure
func (s *Service) Reload(ctx context.Context) (int, error) {
	if err := s.scenes.RefreshCache(ctx); err != nil {
		return 0, err
	}

	list, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading automations: %w", err)
	}

	valid := make([]Automation, 0, len(list))
	for i := range list {
		if err := ValidateAutomation(&list[i], s.scenes.Exists); err != nil {
			s.logger.Warn("skipping invalid automation", "automation_id", list[i].ID, "error", err)
			continue
		}
		valid = append(valid, list[i])
	}

	if s.engine != nil {
		if err := s.engine.SetAutomations(valid); err != nil {
			return 0, err
		}
	}

	s.logger.Info("automations reloaded", "loaded", len(valid), "skipped", len(list)-len(valid))
	return len(valid), nil
}

// Bundle is an import document holding raw scene and automation documents.
type Bundle struct {
	Scenes      []json.RawMessage `json:"scenes"`
	Automations []json.RawMessage `json:"automations"`
}

// ImportResult counts what an import wrote.
type ImportResult struct {
	Scenes      int
	Automations int
}

// Import validates and upserts every document of a bundle, then reloads.
//
// Every document is schema-checked before anything is written. Scenes are
// written in dependency order so a scene may reference another scene later
// in the same bundle.
func (s *Service) Import(ctx context.Context, data []byte) (ImportResult, error) {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return ImportResult{}, fmt.Errorf("decoding bundle: %w", err)
	}

	scenes := make([]*scene.Scene, 0, len(bundle.Scenes))
	for i, raw := range bundle.Scenes {
		sc, err := scene.Decode(raw)
		if err != nil {
			return ImportResult{}, fmt.Errorf("scenes[%d]: %w", i, err)
		}
		scenes = append(scenes, sc)
	}
	automations := make([]*Automation, 0, len(bundle.Automations))
	for i, raw := range bundle.Automations {
		a, err := Decode(raw)
		if err != nil {
			return ImportResult{}, fmt.Errorf("automations[%d]: %w", i, err)
		}
		automations = append(automations, a)
	}

	if err := s.scenes.RefreshCache(ctx); err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	n, err := s.upsertScenes(ctx, scenes)
	res.Scenes = n
	if err != nil {
		return res, err
	}

	for _, a := range automations {
		if err := ValidateAutomation(a, s.scenes.Exists); err != nil {
			return res, err
		}
		if err := s.upsertAutomation(ctx, a); err != nil {
			return res, err
		}
		res.Automations++
	}

	s.logger.Info("bundle imported", "scenes", res.Scenes, "automations", res.Automations)

	if _, err := s.Reload(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// upsertScenes writes scenes, retrying those whose references are not yet
// present until a pass makes no progress.
func (s *Service) upsertScenes(ctx context.Context, pending []*scene.Scene) (int, error) {
	written := 0
	for len(pending) > 0 {
		var (
			retry   []*scene.Scene
			lastErr error
		)
		for _, sc := range pending {
			err := s.upsertScene(ctx, sc)
			switch {
			case err == nil:
				written++
			case errors.Is(err, scene.ErrMissingReference):
				retry = append(retry, sc)
				lastErr = err
			default:
				return written, err
			}
		}
		if len(retry) == len(pending) {
			return written, lastErr
		}
		pending = retry
	}
	return written, nil
}

func (s *Service) upsertScene(ctx context.Context, sc *scene.Scene) error {
	if s.scenes.Exists(sc.ID) {
		return s.scenes.UpdateScene(ctx, sc)
	}
	return s.scenes.CreateScene(ctx, sc)
}

func (s *Service) upsertAutomation(ctx context.Context, a *Automation) error {
	existing, err := s.repo.GetByID(ctx, a.ID)
	switch {
	case err == nil:
		a.CreatedAt = existing.CreatedAt
		return s.repo.Update(ctx, a)
	case errors.Is(err, ErrAutomationNotFound):
		return s.repo.Create(ctx, a)
	default:
		return err
	}
}

// DeleteAutomation removes an automation and reloads.
func (s *Service) DeleteAutomation(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("automation deleted", "automation_id", id)
	_, err := s.Reload(ctx)
	return err
}

// DeleteSceneResult lists what a scene deletion removed.
type DeleteSceneResult struct {
	// Scenes holds the removed scene IDs, target first.
	Scenes []string
	// Automations holds automations removed because a step ran a removed scene.
	Automations []string
}

// DeleteScene removes a scene and reloads.
//
// Without cascade the delete is refused with a *SceneInUseError when an
// automation runs the scene, or a *scene.DependentsError when another scene
// does. With cascade the dependent scenes go too, along with every
// automation whose steps run any removed scene.
func (s *Service) DeleteScene(ctx context.Context, id string, cascade bool) (DeleteSceneResult, error) {
	if err := s.scenes.RefreshCache(ctx); err != nil {
		return DeleteSceneResult{}, err
	}
	if !s.scenes.Exists(id) {
		return DeleteSceneResult{}, scene.ErrSceneNotFound
	}

	if !cascade {
		users, err := s.automationsRunning(ctx, []string{id})
		if err != nil {
			return DeleteSceneResult{}, err
		}
		if len(users) > 0 {
			return DeleteSceneResult{}, &SceneInUseError{SceneID: id, Automations: users}
		}
	}

	removed, err := s.scenes.DeleteScene(ctx, id, scene.DeleteOptions{Cascade: cascade})
	if err != nil {
		return DeleteSceneResult{}, err
	}
	res := DeleteSceneResult{Scenes: removed}

	if cascade {
		users, err := s.automationsRunning(ctx, removed)
		if err != nil {
			return res, err
		}
		for _, aid := range users {
			if err := s.repo.Delete(ctx, aid); err != nil && !errors.Is(err, ErrAutomationNotFound) {
				return res, fmt.Errorf("deleting automation %q: %w", aid, err)
			}
			res.Automations = append(res.Automations, aid)
		}
		if len(res.Automations) > 0 {
			s.logger.Info("automations deleted with scene", "scene_id", id, "automations", res.Automations)
		}
	}

	if _, err := s.Reload(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// automationsRunning returns the IDs of stored automations with a scene
// step naming any of sceneIDs, in repository order.
func (s *Service) automationsRunning(ctx context.Context, sceneIDs []string) ([]string, error) {
	targets := make(map[string]bool, len(sceneIDs))
	for _, id := range sceneIDs {
		targets[id] = true
	}

	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading automations: %w", err)
	}

	var ids []string
	for i := range list {
		for _, step := range list[i].Then {
			if step.Type == scene.StepScene && targets[step.SceneID] {
				ids = append(ids, list[i].ID)
				break
			}
		}
	}
	return ids, nil
}
