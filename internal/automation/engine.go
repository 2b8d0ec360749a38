package automation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/clock"
	"github.com/nerrad567/gray-logic-rules/internal/device"
	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

// Logger defines the logging interface used by the Engine and Service.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher hands device commands to the device-action bus.
type Publisher interface {
	PublishCommand(ctx context.Context, cmd Command) error
}

// SceneExpander flattens a scene into device steps. It is called once per
// scene step of every run, so edits apply to the next run.
type SceneExpander interface {
	Expand(ctx context.Context, sceneID string) ([]scene.Step, error)
}

// RunRecorder receives every finished run. Errors are logged, never acted on.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// DefaultActor tags commands published by the engine.
const DefaultActor = "automation"

// EngineOptions configures NewEngine. Publisher is required.
type EngineOptions struct {
	Publisher Publisher
	Scenes    SceneExpander
	Clock     clock.Clock
	Logger    Logger
	Recorder  RunRecorder

	// Actor prefixes the actor tag of published commands ("automation:<id>").
	Actor string

	// MaxRunDuration bounds a single run, including its wait_for barriers.
	// Zero means unbounded.
	MaxRunDuration time.Duration
}

// Engine is the automation runtime.
//
// All state (device snapshots, per-automation runtime state, waiters) is
// owned by one goroutine that processes events one at a time: device
// updates, reconfiguration, and timer firings. Timer callbacks never touch
// state directly; they post an event. Runs execute on their own goroutines
// and talk to the loop only through events, so other updates keep being
// processed while a run waits on a publisher or a wait_for.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	publisher Publisher
	scenes    SceneExpander
	clock     clock.Clock
	logger    Logger
	recorder  RunRecorder
	actor     string
	maxRun    time.Duration

	events   chan envelope
	done     chan struct{}
	stopOnce sync.Once

	// In-flight runs. idle is closed when inflight drops to zero and
	// replaced when it rises from zero.
	runsMu   sync.Mutex
	inflight int
	idle     chan struct{}

	// Owned by the loop goroutine.
	automations []*Automation
	byID        map[string]*Automation
	devices     map[string]device.Snapshot
	states      map[string]*runtimeState
	waiters     waiterIndex
}

// runtimeState is the scheduling state of one automation id. It survives
// reconfiguration while the id stays in the active set.
type runtimeState struct {
	pending      clock.Timer
	pendingGen   uint64
	pendingSince time.Time

	cooldownUntil time.Time

	executing bool
	runID     string

	interval  clock.Timer
	timeOfDay clock.Timer
	armGen    uint64
}

// envelope carries an event to the loop; ack is closed once it has been
// processed.
type envelope struct {
	ev  any
	ack chan struct{}
}

// Events processed by the loop.
type (
	deviceUpdated  struct{ snap device.Snapshot }
	devicesSeeded  struct{ snaps []device.Snapshot }
	automationsSet struct{ list []*Automation }
	debounceFired  struct {
		id  string
		gen uint64
		tc  TriggerContext
	}
	intervalFired struct {
		id  string
		gen uint64
	}
	timeFired struct {
		id  string
		gen uint64
	}
	runFinished struct{ id, runID string }
	stopRequested struct{}
	query         struct{ fn func() }
)

// NewEngine creates and starts an engine.
//
// Parameters:
//   - opts: Collaborators; Clock defaults to the real clock in local time
//     and Logger to a no-op logger
//
// Returns:
//   - *Engine: Running engine; call Stop to release its goroutine and timers
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		publisher: opts.Publisher,
		scenes:    opts.Scenes,
		clock:     opts.Clock,
		logger:    opts.Logger,
		recorder:  opts.Recorder,
		actor:     opts.Actor,
		maxRun:    opts.MaxRunDuration,
		events:    make(chan envelope, 64),
		done:      make(chan struct{}),
		byID:      make(map[string]*Automation),
		devices:   make(map[string]device.Snapshot),
		states:    make(map[string]*runtimeState),
		waiters:   make(waiterIndex),
	}
	if e.clock == nil {
		e.clock = clock.NewReal(time.Local)
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.actor == "" {
		e.actor = DefaultActor
	}

	go e.loop()
	return e
}

// ─── Public operations ──────────────────────────────────────────────────────

// SeedDevices bulk-loads the snapshot cache without evaluating triggers.
// It is meant for startup, before live updates arrive.
func (e *Engine) SeedDevices(snaps []device.Snapshot) error {
	cpy := make([]device.Snapshot, len(snaps))
	for i := range snaps {
		cpy[i] = snaps[i].Clone()
	}
	return e.send(devicesSeeded{snaps: cpy})
}

// SetAutomations replaces the active automation set.
//
// Runtime state of ids that disappear is discarded, cancelling their
// timers and outstanding waiters. For every automation in list any pending
// debounce is cancelled and time/interval triggers are re-armed against
// the new definition. Cooldowns carry over, so an edit cannot be used to
// bypass one.
func (e *Engine) SetAutomations(list []Automation) error {
	cpy := make([]*Automation, len(list))
	for i := range list {
		cpy[i] = list[i].DeepCopy()
	}
	return e.send(automationsSet{list: cpy})
}

// HandleDeviceUpdate processes a new device snapshot. It returns once
// waiters, pending debounces and device triggers have been evaluated
// against it; runs it starts continue in the background.
func (e *Engine) HandleDeviceUpdate(snap device.Snapshot) error {
	return e.send(deviceUpdated{snap: snap.Clone()})
}

// Stop cancels every timer, clears automations and device state, and
// rejects every outstanding wait_for with ErrEngineStopped. Runs already
// executing are not interrupted. Stop is idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		_ = e.send(stopRequested{})
		<-e.done
	})
}

// WaitRuns blocks until no run is in flight, or ctx is done. It may be
// called before or after Stop.
func (e *Engine) WaitRuns(ctx context.Context) error {
	e.runsMu.Lock()
	if e.inflight == 0 {
		e.runsMu.Unlock()
		return nil
	}
	idle := e.idle
	e.runsMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runStarted and runDone bracket every run goroutine.
func (e *Engine) runStarted() {
	e.runsMu.Lock()
	if e.inflight == 0 {
		e.idle = make(chan struct{})
	}
	e.inflight++
	e.runsMu.Unlock()
}

func (e *Engine) runDone() {
	e.runsMu.Lock()
	e.inflight--
	if e.inflight == 0 {
		close(e.idle)
	}
	e.runsMu.Unlock()
}

// Automations returns copies of the active automations in list order.
func (e *Engine) Automations() []Automation {
	var out []Automation
	_ = e.send(query{fn: func() {
		out = make([]Automation, len(e.automations))
		for i, a := range e.automations {
			out[i] = *a.DeepCopy()
		}
	}})
	return out
}

// DeviceSnapshot returns the cached snapshot of a device.
func (e *Engine) DeviceSnapshot(id string) (device.Snapshot, bool) {
	var (
		snap device.Snapshot
		ok   bool
	)
	_ = e.send(query{fn: func() {
		var cached device.Snapshot
		cached, ok = e.devices[id]
		if ok {
			snap = cached.Clone()
		}
	}})
	return snap, ok
}

// Running returns the ids of automations with a run in progress, sorted.
func (e *Engine) Running() []string {
	var ids []string
	_ = e.send(query{fn: func() {
		for id, st := range e.states {
			if st.executing {
				ids = append(ids, id)
			}
		}
	}})
	sort.Strings(ids)
	return ids
}

// send posts ev and waits until the loop has processed it.
func (e *Engine) send(ev any) error {
	ack := make(chan struct{})
	select {
	case e.events <- envelope{ev: ev, ack: ack}:
	case <-e.done:
		return ErrEngineStopped
	}
	select {
	case <-ack:
		return nil
	case <-e.done:
		return ErrEngineStopped
	}
}

// ─── Event loop ─────────────────────────────────────────────────────────────

func (e *Engine) loop() {
	defer close(e.done)
	for env := range e.events {
		stop := e.dispatch(env.ev)
		close(env.ack)
		if stop {
			return
		}
	}
}

// dispatch processes one event and reports whether the loop should exit.
func (e *Engine) dispatch(ev any) bool {
	switch ev := ev.(type) {
	case deviceUpdated:
		e.handleDeviceUpdate(ev.snap)
	case devicesSeeded:
		for _, snap := range ev.snaps {
			e.devices[snap.ID] = snap
		}
		e.logger.Info("device snapshots seeded", "count", len(ev.snaps))
	case automationsSet:
		e.handleSetAutomations(ev.list)
	case debounceFired:
		e.handleDebounceFired(ev)
	case intervalFired:
		e.handleIntervalFired(ev)
	case timeFired:
		e.handleTimeFired(ev)
	case runFinished:
		if st, ok := e.states[ev.id]; ok && st.runID == ev.runID {
			st.executing = false
			st.runID = ""
		}
	case registerWaiter:
		e.handleRegisterWaiter(ev.w)
	case waiterTimedOut:
		e.handleWaiterTimedOut(ev.w)
	case cancelWaiter:
		e.handleCancelWaiter(ev.w)
	case query:
		ev.fn()
	case stopRequested:
		e.handleStop()
		return true
	}
	return false
}

func (e *Engine) handleSetAutomations(list []*Automation) {
	byID := make(map[string]*Automation, len(list))
	active := make([]*Automation, 0, len(list))
	for _, a := range list {
		if _, dup := byID[a.ID]; dup {
			e.logger.Warn("duplicate automation id ignored", "automation_id", a.ID)
			continue
		}
		byID[a.ID] = a
		active = append(active, a)
	}

	for id, st := range e.states {
		if _, keep := byID[id]; keep {
			continue
		}
		e.cancelAll(st)
		delete(e.states, id)
		e.rejectWaiters(ErrAutomationRemoved, func(w *waiter) bool { return w.wctx.AutomationID == id })
	}

	e.automations = active
	e.byID = byID

	for _, a := range active {
		st := e.state(a.ID)
		e.cancelPending(st)
		e.disarm(st)
		e.arm(a, st)
	}

	e.logger.Info("automations configured", "count", len(active))
}

// handleDeviceUpdate runs the update pipeline: cache, waiters, pending
// debounces, then device triggers in list order.
func (e *Engine) handleDeviceUpdate(snap device.Snapshot) {
	prevSnap, hadPrev := e.devices[snap.ID]
	e.devices[snap.ID] = snap

	e.resolveWaiters(snap)

	for _, a := range e.automations {
		st := e.states[a.ID]
		if st == nil || st.pending == nil {
			continue
		}
		if !a.IsEnabled() || !e.conditionHolds(a) {
			e.cancelPending(st)
			e.logger.Debug("debounce aborted", "automation_id", a.ID, "device_id", snap.ID)
		}
	}

	var prev *device.Snapshot
	if hadPrev {
		prev = &prevSnap
	}
	now := e.clock.Now()
	for _, a := range e.automations {
		if !a.IsEnabled() {
			continue
		}
		st := e.state(a.ID)
		if e.inCooldown(st, now) {
			continue
		}
		if MatchesDeviceTrigger(a.Trigger, MatchInput{Device: snap, Prev: prev}) {
			e.schedule(a, st, TriggerContext{Kind: TriggerDevice, DeviceID: snap.ID})
		}
	}
}

func (e *Engine) handleDebounceFired(ev debounceFired) {
	st, ok := e.states[ev.id]
	if !ok || st.pending == nil || st.pendingGen != ev.gen {
		return
	}
	st.pending = nil

	a, ok := e.byID[ev.id]
	if !ok || !a.IsEnabled() || e.inCooldown(st, e.clock.Now()) || !e.conditionHolds(a) {
		return
	}
	e.execute(a, st, ev.tc)
}

func (e *Engine) handleIntervalFired(ev intervalFired) {
	st, ok := e.states[ev.id]
	if !ok || st.armGen != ev.gen {
		return
	}
	a, ok := e.byID[ev.id]
	if !ok || !a.IsEnabled() || e.inCooldown(st, e.clock.Now()) {
		return
	}
	e.schedule(a, st, TriggerContext{Kind: TriggerInterval})
}

func (e *Engine) handleTimeFired(ev timeFired) {
	st, ok := e.states[ev.id]
	if !ok || st.armGen != ev.gen {
		return
	}
	st.timeOfDay = nil

	a, ok := e.byID[ev.id]
	if !ok {
		return
	}
	if a.IsEnabled() && !e.inCooldown(st, e.clock.Now()) {
		e.schedule(a, st, TriggerContext{Kind: TriggerTime})
	}
	e.armTime(a, st)
}

func (e *Engine) handleStop() {
	for _, st := range e.states {
		e.cancelAll(st)
	}
	e.rejectWaiters(ErrEngineStopped, func(*waiter) bool { return true })

	e.automations = nil
	e.byID = make(map[string]*Automation)
	e.states = make(map[string]*runtimeState)
	e.devices = make(map[string]device.Snapshot)

	e.logger.Info("automation engine stopped")
}

// ─── Scheduling ─────────────────────────────────────────────────────────────

// schedule applies the when condition and the debounce window, then
// executes. A debounce already pending is left alone: it is neither
// restarted nor stacked.
func (e *Engine) schedule(a *Automation, st *runtimeState, tc TriggerContext) {
	if !e.conditionHolds(a) {
		return
	}

	if a.For() <= 0 {
		e.execute(a, st, tc)
		return
	}
	if st.pending != nil {
		return
	}

	st.pendingGen++
	gen, id := st.pendingGen, a.ID
	st.pendingSince = e.clock.Now()
	st.pending = e.clock.AfterFunc(a.For(), func() {
		_ = e.send(debounceFired{id: id, gen: gen, tc: tc})
	})

	e.logger.Debug("debounce armed", "automation_id", a.ID, "for_ms", a.ForMS)
}

// conditionHolds evaluates when. A malformed condition counts as false.
func (e *Engine) conditionHolds(a *Automation) bool {
	if a.When == nil {
		return true
	}
	ok, err := Evaluate(*a.When, EvalContext{Now: e.clock.Now(), Devices: e.devices})
	if err != nil {
		e.logger.Warn("condition evaluation failed", "automation_id", a.ID, "error", err)
		return false
	}
	return ok
}

func (e *Engine) inCooldown(st *runtimeState, now time.Time) bool {
	return now.Before(st.cooldownUntil)
}

// state returns the runtime state for id, creating it on first use.
func (e *Engine) state(id string) *runtimeState {
	st, ok := e.states[id]
	if !ok {
		st = &runtimeState{}
		e.states[id] = st
	}
	return st
}

// arm starts the timers for time and interval triggers.
func (e *Engine) arm(a *Automation, st *runtimeState) {
	switch a.Trigger.Type {
	case TriggerInterval:
		if a.Trigger.Interval == nil || a.Trigger.Interval.Every() <= 0 {
			e.logger.Warn("interval trigger not armed: non-positive period", "automation_id", a.ID)
			return
		}
		gen, id := st.armGen, a.ID
		st.interval = e.clock.TickFunc(a.Trigger.Interval.Every(), func() {
			_ = e.send(intervalFired{id: id, gen: gen})
		})
	case TriggerTime:
		e.armTime(a, st)
	case TriggerDevice:
	}
}

// armTime arms a one-shot timer for the next configured time of day. It is
// re-armed after every firing rather than run at a fixed rate, so DST
// changes and clock drift are absorbed.
func (e *Engine) armTime(a *Automation, st *runtimeState) {
	if a.Trigger.Time == nil {
		return
	}
	now := e.clock.Now()
	next, ok := NextOccurrence(a.Trigger.Time.At, now)
	if !ok {
		e.logger.Warn("time trigger has no valid times", "automation_id", a.ID, "at", a.Trigger.Time.At)
		return
	}

	gen, id := st.armGen, a.ID
	st.timeOfDay = e.clock.AfterFunc(next.Sub(now), func() {
		_ = e.send(timeFired{id: id, gen: gen})
	})
	e.logger.Debug("time trigger armed", "automation_id", a.ID, "next", next)
}

func (e *Engine) cancelPending(st *runtimeState) {
	if st.pending != nil {
		st.pending.Stop()
		st.pending = nil
	}
	st.pendingGen++
}

// disarm stops trigger timers. Bumping armGen invalidates firings that are
// already queued.
func (e *Engine) disarm(st *runtimeState) {
	if st.interval != nil {
		st.interval.Stop()
		st.interval = nil
	}
	if st.timeOfDay != nil {
		st.timeOfDay.Stop()
		st.timeOfDay = nil
	}
	st.armGen++
}

func (e *Engine) cancelAll(st *runtimeState) {
	e.cancelPending(st)
	e.disarm(st)
}
