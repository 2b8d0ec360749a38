// Package automation provides the rules engine for Gray Logic.
//
// An automation pairs a trigger (device update, time of day, or interval)
// with an optional condition tree, optional debounce (forMs) and cooldown
// (cooldownMs) windows, and an ordered list of steps that publish device
// commands or run scenes.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                    Engine (engine.go)                     │
//	│  single event loop owning snapshots, runtime state,       │
//	│  and the waiter index                                     │
//	│                                                           │
//	│  device update ─┐                                         │
//	│  timer firing ──┼──▶ events ──▶ loop ──▶ schedule         │
//	│  reconfigure ───┘                  │        │             │
//	│                                    │        ▼             │
//	│                      waiters ◀─────┘   run goroutine      │
//	│                         ▲               │  publish        │
//	│                         └──── wait_for ─┘  expand scene   │
//	└──────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Automation: trigger + when + forMs/cooldownMs + then
//   - Trigger: device, time or interval (MatchesDeviceTrigger, NextOccurrence)
//   - Condition: all/any/not/time/device comparison tree (Evaluate)
//   - Engine: the runtime; SeedDevices, SetAutomations, HandleDeviceUpdate, Stop
//   - Service: loads persisted automations and scenes into the engine
//
// # Ordering
//
// A device update is processed in this order: the snapshot cache is
// overwritten, waiters on that device are re-tested, pending debounces
// whose condition no longer holds are cancelled, then device triggers are
// evaluated in automation-list order. Runs started by the update execute
// concurrently with each other and with later events, but a single
// automation never runs twice at once.
//
// # Usage
//
//	engine := automation.NewEngine(automation.EngineOptions{
//	    Publisher: publisher,
//	    Scenes:    sceneRegistry,
//	    Logger:    log,
//	})
//	defer engine.Stop()
//
//	svc := automation.NewService(repo, sceneRegistry, engine, log)
//	if _, err := svc.Reload(ctx); err != nil {
//	    return err
//	}
//	engine.HandleDeviceUpdate(snapshot)
package automation
