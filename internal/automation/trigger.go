package automation

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/gray-logic-rules/internal/device"
	"github.com/nerrad567/gray-logic-rules/internal/predicate"
	"github.com/nerrad567/gray-logic-rules/internal/scene"
)

// TriggerType is the event class that starts evaluation of an automation.
type TriggerType string

const (
	TriggerDevice   TriggerType = "device"
	TriggerTime     TriggerType = "time"
	TriggerInterval TriggerType = "interval"
)

// Trigger is a tagged union; the field matching Type is set.
type Trigger struct {
	Type     TriggerType
	Device   *DeviceTrigger
	Time     *TimeTrigger
	Interval *IntervalTrigger
}

// DeviceTrigger matches device updates.
//
// An empty DeviceID list matches any device. Value is only tested when
// HasValue is set, and then Operator must be one of the six operators.
type DeviceTrigger struct {
	DeviceID  StringList         `json:"deviceId,omitempty"`
	TraitPath string             `json:"traitPath,omitempty"`
	Changed   bool               `json:"changed,omitempty"`
	Operator  predicate.Operator `json:"operator,omitempty"`
	Value     any                `json:"value,omitempty"`
	HasValue  bool               `json:"-"`
}

// TimeTrigger fires at one or more local "HH:MM" times every day.
type TimeTrigger struct {
	At StringList `json:"at"`
}

// IntervalTrigger fires every EveryMS milliseconds.
type IntervalTrigger struct {
	EveryMS int64 `json:"everyMs"`
}

// Every returns the interval as a duration.
func (t *IntervalTrigger) Every() time.Duration {
	return scene.Millis(t.EveryMS)
}

// StringList decodes from either a JSON string or an array of strings.
type StringList []string

// UnmarshalJSON accepts "a" or ["a", "b"].
func (l *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	*l = many
	return nil
}

// MarshalJSON writes a single element as a plain string.
func (l StringList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

// DeviceTriggerFor is a convenience constructor for device triggers.
func DeviceTriggerFor(t DeviceTrigger) Trigger {
	return Trigger{Type: TriggerDevice, Device: &t}
}

// TimeTriggerAt returns a time-of-day trigger.
func TimeTriggerAt(at ...string) Trigger {
	return Trigger{Type: TriggerTime, Time: &TimeTrigger{At: at}}
}

// IntervalTriggerEvery returns an interval trigger.
func IntervalTriggerEvery(d time.Duration) Trigger {
	return Trigger{Type: TriggerInterval, Interval: &IntervalTrigger{EveryMS: d.Milliseconds()}}
}

// MatchInput is the device update a trigger is tested against. Prev is
// nil the first time a device is seen.
type MatchInput struct {
	Device device.Snapshot
	Prev   *device.Snapshot
}

// MatchesDeviceTrigger reports whether a device update satisfies t.
// Time and interval triggers never match here.
func MatchesDeviceTrigger(t Trigger, in MatchInput) bool {
	if t.Type != TriggerDevice || t.Device == nil {
		return false
	}
	dt := t.Device

	if len(dt.DeviceID) > 0 && !slices.Contains(dt.DeviceID, in.Device.ID) {
		return false
	}

	if dt.TraitPath == "" {
		return !dt.Changed
	}

	value, ok := in.Device.Get(dt.TraitPath)
	if !ok {
		return false
	}

	if dt.Changed {
		if in.Prev == nil {
			return false
		}
		prev, found := in.Prev.Get(dt.TraitPath)
		if found && predicate.StrictEqual(prev, value) {
			return false
		}
	}

	if dt.HasValue {
		if !dt.Operator.Valid() {
			return false
		}
		return predicate.Compare(dt.Operator, value, dt.Value)
	}
	return true
}

// NextOccurrence returns the earliest time strictly after now at which one
// of the "HH:MM" values falls, in now's location. Invalid values are
// ignored; it reports false when none are valid.
func NextOccurrence(at []string, now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	for _, s := range at {
		sched, err := dailySchedule(s)
		if err != nil {
			continue
		}
		t := sched.Next(now)
		if t.IsZero() {
			continue
		}
		if !found || t.Before(next) {
			next, found = t, true
		}
	}
	return next, found
}

// dailySchedule turns "HH:MM" into a standard cron schedule firing once a day.
func dailySchedule(hhmm string) (cron.Schedule, error) {
	minutes, ok := parseClock(hhmm)
	if !ok {
		return nil, fmt.Errorf("%w: invalid time %q", ErrInvalidTrigger, hhmm)
	}
	return cron.ParseStandard(fmt.Sprintf("%d %d * * *", minutes%60, minutes/60))
}

// ─── JSON ───────────────────────────────────────────────────────────────────

// MarshalJSON flattens the trigger into {"type": ..., fields...}.
func (t Trigger) MarshalJSON() ([]byte, error) {
	var body any
	switch t.Type {
	case TriggerDevice:
		if t.Device == nil {
			return nil, fmt.Errorf("%w: device trigger without body", ErrInvalidTrigger)
		}
		doc := map[string]any{}
		if len(t.Device.DeviceID) > 0 {
			doc["deviceId"] = t.Device.DeviceID
		}
		if t.Device.TraitPath != "" {
			doc["traitPath"] = t.Device.TraitPath
		}
		if t.Device.Changed {
			doc["changed"] = true
		}
		if t.Device.Operator != "" {
			doc["operator"] = t.Device.Operator
		}
		if t.Device.HasValue {
			doc["value"] = t.Device.Value
		}
		doc["type"] = t.Type
		return json.Marshal(doc)
	case TriggerTime:
		body = t.Time
	case TriggerInterval:
		body = t.Interval
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, t.Type)
	}

	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(fields, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	doc["type"] = t.Type
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a flat trigger document by its type tag.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var head struct {
		Type TriggerType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}

	*t = Trigger{Type: head.Type}
	switch head.Type {
	case TriggerDevice:
		var dt DeviceTrigger
		if err := json.Unmarshal(data, &dt); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(data, &keys); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
		_, dt.HasValue = keys["value"]
		t.Device = &dt
	case TriggerTime:
		t.Time = &TimeTrigger{}
		if err := json.Unmarshal(data, t.Time); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	case TriggerInterval:
		t.Interval = &IntervalTrigger{}
		if err := json.Unmarshal(data, t.Interval); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, head.Type)
	}
	return nil
}

// deepCopy returns an independent copy of the trigger.
func (t Trigger) deepCopy() Trigger {
	cpy := Trigger{Type: t.Type}
	if t.Device != nil {
		d := *t.Device
		d.DeviceID = slices.Clone(t.Device.DeviceID)
		cpy.Device = &d
	}
	if t.Time != nil {
		cpy.Time = &TimeTrigger{At: slices.Clone(t.Time.At)}
	}
	if t.Interval != nil {
		i := *t.Interval
		cpy.Interval = &i
	}
	return cpy
}
