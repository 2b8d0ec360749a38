package influxdb

import (
	"maps"
	"slices"
	"time"
)

// Measurement names.
const (
	MeasurementAutomationRuns = "automation_runs"
	MeasurementDeviceTraits   = "device_traits"
)

// RunPoint is one finished automation run.
type RunPoint struct {
	AutomationID string
	RunID        string
	Trigger      string
	Status       string
	Steps        int
	Duration     time.Duration
	FinishedAt   time.Time
	Failed       bool
}

// WriteRun records a finished run.
//
// automation_id, trigger and status are tags; run_id is a field to keep
// series cardinality bounded by the number of automations.
func (c *Client) WriteRun(r RunPoint) {
	failed := 0
	if r.Failed {
		failed = 1
	}
	c.write(MeasurementAutomationRuns,
		map[string]string{
			"automation_id": r.AutomationID,
			"trigger":       r.Trigger,
			"status":        r.Status,
		},
		map[string]any{
			"run_id":      r.RunID,
			"steps":       r.Steps,
			"duration_ms": r.Duration.Milliseconds(),
			"failed":      failed,
		},
		r.FinishedAt,
	)
}

// WriteDeviceTraits records the numeric and boolean leaves of a traits
// tree as one point. Nested keys are joined with dots ("switch.level");
// booleans are written as 0 or 1. Nothing is written when no leaf
// qualifies.
func (c *Client) WriteDeviceTraits(deviceID string, traits map[string]any, ts time.Time) {
	fields := make(map[string]any)
	flattenNumeric("", traits, fields)
	if len(fields) == 0 {
		return
	}
	c.write(MeasurementDeviceTraits, map[string]string{"device_id": deviceID}, fields, ts)
}

func flattenNumeric(prefix string, m map[string]any, out map[string]any) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := m[k].(type) {
		case float64:
			out[key] = v
		case int:
			out[key] = float64(v)
		case int64:
			out[key] = float64(v)
		case bool:
			if v {
				out[key] = 1.0
			} else {
				out[key] = 0.0
			}
		case map[string]any:
			flattenNumeric(key, v, out)
		}
	}
}
