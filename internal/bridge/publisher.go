package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/automation"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/mqtt"
)

// CommandPublisher implements automation.Publisher by publishing each
// command as JSON on graylogic/command/{device}.
type CommandPublisher struct {
	bus Bus
	qos byte
}

// NewCommandPublisher creates a publisher using qos for every command.
func NewCommandPublisher(bus Bus, qos byte) *CommandPublisher {
	return &CommandPublisher{bus: bus, qos: qos}
}

// PublishCommand implements automation.Publisher.
func (p *CommandPublisher) PublishCommand(ctx context.Context, cmd automation.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	return p.bus.Publish(mqtt.Topics{}.Command(cmd.DeviceID), payload, p.qos, false)
}

// RunAnnouncer implements automation.RunRecorder by publishing every
// finished run on graylogic/core/automation/{id}/fired.
type RunAnnouncer struct {
	bus Bus
	qos byte
}

// NewRunAnnouncer creates an announcer.
func NewRunAnnouncer(bus Bus, qos byte) *RunAnnouncer {
	return &RunAnnouncer{bus: bus, qos: qos}
}

type firedMessage struct {
	automation.RunRecord
	DurationMS int64 `json:"durationMs"`
}

// RecordRun implements automation.RunRecorder.
func (a *RunAnnouncer) RecordRun(_ context.Context, rec automation.RunRecord) error {
	payload, err := json.Marshal(firedMessage{RunRecord: rec, DurationMS: rec.Duration().Milliseconds()})
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	return a.bus.Publish(mqtt.Topics{}.AutomationFired(rec.AutomationID), payload, a.qos, false)
}

// RunWriter receives run points. *influxdb.Client implements it.
type RunWriter interface {
	WriteRun(p influxdb.RunPoint)
}

// RunTelemetry implements automation.RunRecorder on top of a RunWriter.
type RunTelemetry struct {
	w RunWriter
}

// NewRunTelemetry wraps w.
func NewRunTelemetry(w RunWriter) *RunTelemetry {
	return &RunTelemetry{w: w}
}

// RecordRun implements automation.RunRecorder. It never fails; write
// errors are reported asynchronously by the InfluxDB client.
func (t *RunTelemetry) RecordRun(_ context.Context, rec automation.RunRecord) error {
	finished := rec.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	t.w.WriteRun(influxdb.RunPoint{
		AutomationID: rec.AutomationID,
		RunID:        rec.ID,
		Trigger:      string(rec.TriggerKind),
		Status:       string(rec.Status),
		Steps:        rec.Steps,
		Duration:     rec.Duration(),
		FinishedAt:   finished,
		Failed:       rec.Status == automation.RunFailed,
	})
	return nil
}
