// Package scene owns scene definitions and their reference graph.
//
// A scene is an ordered list of steps. A step either commands one device
// or references another scene, so scenes form a directed graph. The graph
// must stay free of dangling references and cycles; both are checked at
// write time by the Registry and again at expansion time.
//
// # Key Types
//
//   - Scene: persisted definition (id, name, steps)
//   - Step: a device command (optionally followed by a wait_for barrier) or a scene reference
//   - Graph: immutable view over a scene set: Validate, Expand, Dependents, CascadeSet
//   - Registry: thread-safe cache over a Repository, the entry point for CRUD
//
// # Expansion
//
// Expand flattens a scene into the device steps it would run, inlining
// referenced scenes depth-first and preserving order:
//
//	a = [A, scene(b), C], b = [X, Y]
//	Expand("a") -> [A, X, Y, C]
//
// The Registry builds a fresh Graph for each Expand call, so edits take
// effect on the next run without restarting the engine.
//
// # Deletion
//
// Deleting a scene that other scenes reference is refused with a
// *DependentsError unless cascade is requested, in which case the full
// transitive set of dependents is removed with it.
package scene
