package automation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

// errNoSceneExpander is returned when a run reaches a scene step but the
// engine was built without a SceneExpander.
var errNoSceneExpander = errors.New("automation: no scene expander configured")

// execute starts a run of a. It is called on the loop goroutine.
//
// The executing flag blocks a second concurrent run of the same id, and
// the cooldown window starts before any step runs so a slow run cannot be
// triggered twice.
func (e *Engine) execute(a *Automation, st *runtimeState, tc TriggerContext) {
	if st.executing {
		e.logger.Debug("run skipped: already executing", "automation_id", a.ID, "run_id", st.runID)
		return
	}

	now := e.clock.Now()
	runID := uuid.NewString()
	st.executing = true
	st.runID = runID
	if a.CooldownMS > 0 {
		st.cooldownUntil = now.Add(a.Cooldown())
	}
	e.cancelPending(st)

	run := a.DeepCopy()
	e.runStarted()
	go func() {
		defer e.runDone()
		e.run(run, runID, tc)
	}()
}

// run executes the then list and reports the outcome. Errors end the run
// and are logged; they never reach the event loop.
func (e *Engine) run(a *Automation, runID string, tc TriggerContext) {
	ctx := context.Background()
	if e.maxRun > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.maxRun)
		defer cancel()
	}

	rec := RunRecord{
		ID:           runID,
		AutomationID: a.ID,
		TriggerKind:  tc.Kind,
		DeviceID:     tc.DeviceID,
		StartedAt:    e.clock.Now(),
	}

	e.logger.Info("automation run started",
		"automation_id", a.ID,
		"run_id", runID,
		"trigger", tc.Kind,
		"device_id", tc.DeviceID,
	)

	steps, err := e.runSteps(ctx, a, runID)
	rec.Steps = steps
	rec.FinishedAt = e.clock.Now()
	rec.Status = RunCompleted
	if err != nil {
		rec.Status = RunFailed
		rec.Error = err.Error()
		e.logger.Error("automation run failed",
			"automation_id", a.ID,
			"run_id", runID,
			"steps", steps,
			"error", err,
		)
	} else {
		e.logger.Info("automation run complete",
			"automation_id", a.ID,
			"run_id", runID,
			"steps", steps,
			"duration_ms", rec.Duration().Milliseconds(),
		)
	}

	if e.recorder != nil {
		if recErr := e.recorder.RecordRun(context.Background(), rec); recErr != nil {
			e.logger.Warn("failed to record run", "automation_id", a.ID, "run_id", runID, "error", recErr)
		}
	}

	_ = e.send(runFinished{id: a.ID, runID: runID})
}

// runSteps executes then entries in order and returns how many commands
// were published. The first error aborts the rest of the run.
func (e *Engine) runSteps(ctx context.Context, a *Automation, runID string) (int, error) {
	published := 0
	deviceStep := func(st scene.Step, sceneID string, index int) error {
		if err := e.publishStep(ctx, a, runID, st, sceneID, index); err != nil {
			return err
		}
		published++
		if st.WaitFor == nil {
			return nil
		}
		return e.waitFor(ctx, st.DeviceID, *st.WaitFor, WaitContext{
			AutomationID: a.ID,
			RunID:        runID,
			SceneID:      sceneID,
			StepIndex:    index,
		})
	}

	for i, st := range a.Then {
		switch st.Type {
		case scene.StepDevice:
			if err := deviceStep(st, "", i); err != nil {
				return published, err
			}

		case scene.StepScene:
			if e.scenes == nil {
				return published, errNoSceneExpander
			}
			steps, err := e.scenes.Expand(ctx, st.SceneID)
			if err != nil {
				return published, fmt.Errorf("expanding scene %q: %w", st.SceneID, err)
			}
			for j, inner := range steps {
				if err := deviceStep(inner, st.SceneID, j); err != nil {
					return published, err
				}
			}

		default:
			return published, fmt.Errorf("then[%d]: %w: unknown type %q", i, scene.ErrInvalidStep, st.Type)
		}
	}
	return published, nil
}

// publishStep sends one device command.
func (e *Engine) publishStep(ctx context.Context, a *Automation, runID string, st scene.Step, sceneID string, index int) error {
	params := st.Params
	if params == nil {
		params = map[string]any{}
	}

	cmd := Command{
		DeviceID:     st.DeviceID,
		Action:       st.Action,
		Params:       params,
		TS:           e.clock.Now(),
		Actor:        e.actor + ":" + a.ID,
		AutomationID: a.ID,
		RunID:        runID,
		SceneID:      sceneID,
		StepIndex:    index,
	}
	if err := e.publisher.PublishCommand(ctx, cmd); err != nil {
		return fmt.Errorf("publishing %s to %q: %w", st.Action, st.DeviceID, err)
	}

	e.logger.Debug("command published",
		"automation_id", a.ID,
		"run_id", runID,
		"device_id", st.DeviceID,
		"action", st.Action,
		"scene_id", sceneID,
		"step_index", index,
	)
	return nil
}
