package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/device"
	"github.com/nerrad567/gray-logic-rules/internal/predicate"
)

// ConditionKind identifies which branch of a Condition is set.
type ConditionKind int

const (
	ConditionInvalid ConditionKind = iota
	ConditionAll
	ConditionAny
	ConditionNot
	ConditionTime
	ConditionDevice
)

// String returns the JSON key for the kind.
func (k ConditionKind) String() string {
	switch k {
	case ConditionAll:
		return "all"
	case ConditionAny:
		return "any"
	case ConditionNot:
		return "not"
	case ConditionTime:
		return "time"
	case ConditionDevice:
		return "device"
	}
	return "invalid"
}

// Condition is one node of a when tree. Exactly one field is set.
//
// All and Any distinguish nil (not this kind) from empty (vacuous): an
// empty All is true and an empty Any is false. Use the All, Any, Not,
// TimeBetween and DeviceIs constructors when building trees in code.
type Condition struct {
	All    []Condition
	Any    []Condition
	Not    *Condition
	Time   *TimeWindow
	Device *DeviceCondition
}

// TimeWindow matches the current minute of day. Either bound may be empty.
// When After is later than Before the window wraps past midnight.
type TimeWindow struct {
	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`
}

// DeviceCondition compares one trait of one device.
//
// When HasEquals is set the trait must strictly equal Equals and Operator
// is ignored. Otherwise Operator (default eq) is applied against Value.
type DeviceCondition struct {
	DeviceID  string
	TraitPath string
	Operator  predicate.Operator
	Value     any
	Equals    any
	HasEquals bool
}

// EvalContext is the world a condition is evaluated against.
type EvalContext struct {
	Now     time.Time
	Devices map[string]device.Snapshot
}

// All returns a condition true when every sub-condition is true.
func All(conds ...Condition) Condition {
	if conds == nil {
		conds = []Condition{}
	}
	return Condition{All: conds}
}

// Any returns a condition true when at least one sub-condition is true.
func Any(conds ...Condition) Condition {
	if conds == nil {
		conds = []Condition{}
	}
	return Condition{Any: conds}
}

// Not negates c.
func Not(c Condition) Condition {
	return Condition{Not: &c}
}

// TimeBetween returns a time-of-day window condition.
func TimeBetween(after, before string) Condition {
	return Condition{Time: &TimeWindow{After: after, Before: before}}
}

// DeviceIs returns an atomic condition comparing a device trait.
func DeviceIs(deviceID, traitPath string, op predicate.Operator, value any) Condition {
	return Condition{Device: &DeviceCondition{DeviceID: deviceID, TraitPath: traitPath, Operator: op, Value: value}}
}

// Kind reports which branch is set, or ConditionInvalid when none or more
// than one is.
func (c Condition) Kind() ConditionKind {
	kind := ConditionInvalid
	set := 0
	if c.All != nil {
		kind, set = ConditionAll, set+1
	}
	if c.Any != nil {
		kind, set = ConditionAny, set+1
	}
	if c.Not != nil {
		kind, set = ConditionNot, set+1
	}
	if c.Time != nil {
		kind, set = ConditionTime, set+1
	}
	if c.Device != nil {
		kind, set = ConditionDevice, set+1
	}
	if set != 1 {
		return ConditionInvalid
	}
	return kind
}

// Evaluate evaluates a condition tree.
//
// A malformed node returns ErrInvalidCondition; callers treat that as
// false. A device condition on an unknown device is false, not an error.
func Evaluate(c Condition, ctx EvalContext) (bool, error) {
	switch c.Kind() {
	case ConditionAll:
		for i := range c.All {
			ok, err := Evaluate(c.All[i], ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case ConditionAny:
		for i := range c.Any {
			ok, err := Evaluate(c.Any[i], ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case ConditionNot:
		ok, err := Evaluate(*c.Not, ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case ConditionTime:
		return c.Time.Contains(ctx.Now), nil

	case ConditionDevice:
		return c.Device.evaluate(ctx.Devices), nil

	case ConditionInvalid:
	}
	return false, fmt.Errorf("%w: node must set exactly one of all, any, not, time or a device comparison", ErrInvalidCondition)
}

// Contains reports whether t's minute of day falls in the window.
// Bounds that are missing or not valid HH:MM are ignored.
func (w *TimeWindow) Contains(t time.Time) bool {
	now := t.Hour()*60 + t.Minute()
	after, hasAfter := parseClock(w.After)
	before, hasBefore := parseClock(w.Before)

	switch {
	case hasAfter && hasBefore:
		if after <= before {
			return now >= after && now < before
		}
		return now >= after || now < before
	case hasAfter:
		return now >= after
	case hasBefore:
		return now < before
	}
	return true
}

func (d *DeviceCondition) evaluate(devices map[string]device.Snapshot) bool {
	if d.DeviceID == "" || d.TraitPath == "" {
		return false
	}
	snap, ok := devices[d.DeviceID]
	if !ok {
		return false
	}
	if d.HasEquals {
		actual, found := snap.Get(d.TraitPath)
		return found && predicate.StrictEqual(actual, d.Equals)
	}
	op := d.Operator
	if op == "" {
		op = predicate.OpEq
	}
	return compareTrait(snap, d.TraitPath, op, d.Value)
}

// compareTrait applies op to a snapshot trait. A missing trait satisfies
// only neq.
func compareTrait(snap device.Snapshot, path string, op predicate.Operator, expected any) bool {
	actual, ok := snap.Get(path)
	if !ok {
		return op == predicate.OpNeq
	}
	return predicate.Compare(op, actual, expected)
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, bool) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ─── JSON ───────────────────────────────────────────────────────────────────

// MarshalJSON encodes the node in its keyed form.
func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.Kind() {
	case ConditionAll:
		return json.Marshal(map[string]any{"all": c.All})
	case ConditionAny:
		return json.Marshal(map[string]any{"any": c.Any})
	case ConditionNot:
		return json.Marshal(map[string]any{"not": c.Not})
	case ConditionTime:
		return json.Marshal(map[string]any{"time": c.Time})
	case ConditionDevice:
		return json.Marshal(c.Device)
	case ConditionInvalid:
	}
	return nil, ErrInvalidCondition
}

// UnmarshalJSON decodes a node. Shape problems (several kinds in one node,
// or none) are left for Evaluate and validation to report; only JSON type
// errors fail decoding.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}

	*c = Condition{}
	if v, ok := raw["all"]; ok {
		c.All = []Condition{}
		if err := json.Unmarshal(v, &c.All); err != nil {
			return fmt.Errorf("%w: all: %w", ErrInvalidCondition, err)
		}
	}
	if v, ok := raw["any"]; ok {
		c.Any = []Condition{}
		if err := json.Unmarshal(v, &c.Any); err != nil {
			return fmt.Errorf("%w: any: %w", ErrInvalidCondition, err)
		}
	}
	if v, ok := raw["not"]; ok {
		c.Not = &Condition{}
		if err := json.Unmarshal(v, c.Not); err != nil {
			return fmt.Errorf("%w: not: %w", ErrInvalidCondition, err)
		}
	}
	if v, ok := raw["time"]; ok {
		c.Time = &TimeWindow{}
		if err := json.Unmarshal(v, c.Time); err != nil {
			return fmt.Errorf("%w: time: %w", ErrInvalidCondition, err)
		}
	}
	_, hasDevice := raw["deviceId"]
	_, hasPath := raw["traitPath"]
	if hasDevice || hasPath {
		c.Device = &DeviceCondition{}
		if err := json.Unmarshal(data, c.Device); err != nil {
			return err
		}
	}
	return nil
}

type deviceConditionJSON struct {
	DeviceID  string             `json:"deviceId"`
	TraitPath string             `json:"traitPath"`
	Operator  predicate.Operator `json:"operator,omitempty"`
	Value     any                `json:"value,omitempty"`
	Equals    any                `json:"equals,omitempty"`
}

// MarshalJSON encodes the atomic comparison, keeping equals when set.
func (d *DeviceCondition) MarshalJSON() ([]byte, error) {
	doc := map[string]any{
		"deviceId":  d.DeviceID,
		"traitPath": d.TraitPath,
	}
	if d.HasEquals {
		doc["equals"] = d.Equals
		return json.Marshal(doc)
	}
	if d.Operator != "" {
		doc["operator"] = d.Operator
	}
	if d.Value != nil {
		doc["value"] = d.Value
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the atomic comparison, recording whether equals
// was present (an explicit null counts).
func (d *DeviceCondition) UnmarshalJSON(data []byte) error {
	var doc deviceConditionJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}

	_, hasEquals := keys["equals"]
	*d = DeviceCondition{
		DeviceID:  doc.DeviceID,
		TraitPath: doc.TraitPath,
		Operator:  doc.Operator,
		Value:     doc.Value,
		Equals:    doc.Equals,
		HasEquals: hasEquals,
	}
	return nil
}

// deepCopy returns an independent copy of the tree.
func (c Condition) deepCopy() Condition {
	var cpy Condition
	if c.All != nil {
		cpy.All = make([]Condition, len(c.All))
		for i := range c.All {
			cpy.All[i] = c.All[i].deepCopy()
		}
	}
	if c.Any != nil {
		cpy.Any = make([]Condition, len(c.Any))
		for i := range c.Any {
			cpy.Any[i] = c.Any[i].deepCopy()
		}
	}
	if c.Not != nil {
		n := c.Not.deepCopy()
		cpy.Not = &n
	}
	if c.Time != nil {
		w := *c.Time
		cpy.Time = &w
	}
	if c.Device != nil {
		d := *c.Device
		cpy.Device = &d
	}
	return cpy
}
