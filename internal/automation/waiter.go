package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/clock"
	"github.com/nerrad567/gray-logic-rules/internal/device"
	"github.com/nerrad567/gray-logic-rules/internal/predicate"
	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

// WaitContext identifies the run and step a wait_for belongs to.
type WaitContext struct {
	AutomationID string
	RunID        string
	SceneID      string
	StepIndex    int
}

// WaitTimeoutError reports a wait_for whose condition was not reached in
// time. The message states the condition the device was left in, using
// the negated operator.
type WaitTimeoutError struct {
	DeviceID  string
	TraitPath string
	Operator  predicate.Operator
	Expected  any
	Timeout   time.Duration
	Context   WaitContext
}

func (e *WaitTimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s after %s: device %q %s %s %v",
		ErrWaitTimeout, e.Timeout, e.DeviceID, e.TraitPath, e.Operator.Negated(), formatValue(e.Expected))

	var where []string
	if e.Context.AutomationID != "" {
		where = append(where, fmt.Sprintf("automation %q", e.Context.AutomationID))
	}
	if e.Context.SceneID != "" {
		where = append(where, fmt.Sprintf("scene %q", e.Context.SceneID))
	}
	where = append(where, fmt.Sprintf("step %d", e.Context.StepIndex))
	fmt.Fprintf(&b, " (%s)", strings.Join(where, ", "))
	return b.String()
}

// Unwrap allows errors.Is(err, ErrWaitTimeout).
func (e *WaitTimeoutError) Unwrap() error { return ErrWaitTimeout }

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}

// waiter is one outstanding wait_for. It is owned by the engine loop from
// registration until it is settled; result receives exactly one value.
type waiter struct {
	deviceID string
	cond     scene.WaitFor
	wctx     WaitContext
	timer    clock.Timer
	result   chan error
}

func (w *waiter) satisfiedBy(snap device.Snapshot) bool {
	return compareTrait(snap, w.cond.TraitPath, w.cond.Operator, w.cond.Value)
}

func (w *waiter) timeoutError() *WaitTimeoutError {
	return &WaitTimeoutError{
		DeviceID:  w.deviceID,
		TraitPath: w.cond.TraitPath,
		Operator:  w.cond.Operator,
		Expected:  w.cond.Value,
		Timeout:   w.cond.Timeout(),
		Context:   w.wctx,
	}
}

// waiterIndex holds outstanding waiters keyed by device id, so an update
// only re-tests the waiters on that device.
type waiterIndex map[string]map[*waiter]struct{}

func (idx waiterIndex) add(w *waiter) {
	set, ok := idx[w.deviceID]
	if !ok {
		set = make(map[*waiter]struct{})
		idx[w.deviceID] = set
	}
	set[w] = struct{}{}
}

// remove reports whether w was still registered.
func (idx waiterIndex) remove(w *waiter) bool {
	set, ok := idx[w.deviceID]
	if !ok {
		return false
	}
	if _, ok := set[w]; !ok {
		return false
	}
	delete(set, w)
	if len(set) == 0 {
		delete(idx, w.deviceID)
	}
	return true
}

func (idx waiterIndex) len() int {
	n := 0
	for _, set := range idx {
		n += len(set)
	}
	return n
}

// settle stops the waiter's timer and delivers its result.
func (w *waiter) settle(err error) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.result <- err
}

// ─── Loop handlers ──────────────────────────────────────────────────────────

type registerWaiter struct{ w *waiter }

type waiterTimedOut struct{ w *waiter }

type cancelWaiter struct{ w *waiter }

// handleRegisterWaiter resolves immediately when the current snapshot
// already satisfies the condition, otherwise indexes the waiter and arms
// its timeout.
func (e *Engine) handleRegisterWaiter(w *waiter) {
	if snap, ok := e.devices[w.deviceID]; ok && w.satisfiedBy(snap) {
		w.result <- nil
		return
	}

	e.waiters.add(w)
	w.timer = e.clock.AfterFunc(w.cond.Timeout(), func() {
		_ = e.send(waiterTimedOut{w: w})
	})

	e.logger.Debug("waiting for device state",
		"automation_id", w.wctx.AutomationID,
		"run_id", w.wctx.RunID,
		"device_id", w.deviceID,
		"trait_path", w.cond.TraitPath,
		"timeout_ms", w.cond.TimeoutMS,
	)
}

func (e *Engine) handleWaiterTimedOut(w *waiter) {
	if !e.waiters.remove(w) {
		return
	}
	w.settle(w.timeoutError())
}

func (e *Engine) handleCancelWaiter(w *waiter) {
	if e.waiters.remove(w) {
		w.settle(context.Canceled)
	}
}

// resolveWaiters settles every waiter on snap's device that the new
// snapshot satisfies.
func (e *Engine) resolveWaiters(snap device.Snapshot) {
	for w := range e.waiters[snap.ID] {
		if w.satisfiedBy(snap) {
			e.waiters.remove(w)
			w.settle(nil)
		}
	}
}

// rejectWaiters settles every waiter accepted by match with err.
func (e *Engine) rejectWaiters(err error, match func(*waiter) bool) {
	for _, set := range e.waiters {
		for w := range set {
			if match(w) {
				e.waiters.remove(w)
				w.settle(err)
			}
		}
	}
}

// waitFor blocks until deviceID satisfies cond, the timeout elapses, ctx
// is done, or the engine stops.
func (e *Engine) waitFor(ctx context.Context, deviceID string, cond scene.WaitFor, wctx WaitContext) error {
	w := &waiter{
		deviceID: deviceID,
		cond:     cond,
		wctx:     wctx,
		result:   make(chan error, 1),
	}
	if err := e.send(registerWaiter{w: w}); err != nil {
		return err
	}

	select {
	case err := <-w.result:
		return err
	case <-ctx.Done():
		_ = e.send(cancelWaiter{w: w})
		return ctx.Err()
	}
}
