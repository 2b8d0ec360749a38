package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-rules/internal/device"
	"github.com/nerrad567/gray-logic-rules/internal/infrastructure/mqtt"
)

// ErrUnknownTopic is returned for a message on a topic StateSync does not
// subscribe to.
var ErrUnknownTopic = errors.New("bridge: not a state topic")

// DeviceSink receives device updates. *automation.Engine implements it.
type DeviceSink interface {
	HandleDeviceUpdate(snap device.Snapshot) error
	DeviceSnapshot(id string) (device.Snapshot, bool)
}

// TraitWriter records trait values as telemetry. *influxdb.Client
// implements it.
type TraitWriter interface {
	WriteDeviceTraits(deviceID string, traits map[string]any, ts time.Time)
}

// StateMessage is a protocol bridge's state publication. State holds only
// the traits the bridge observed, so it is merged over the last snapshot.
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// StateSyncOptions configures NewStateSync. Bus and Engine are required.
type StateSyncOptions struct {
	Bus       Bus
	Engine    DeviceSink
	Store     device.Store
	Telemetry TraitWriter
	Logger    Logger

	// QoS for the state subscriptions.
	QoS byte
}

// StateSync turns state messages into engine device updates.
//
// Two topic shapes are accepted. Bridge state (graylogic/state/{protocol}/
// {device}) carries a partial StateMessage whose keys replace the same
// top-level trait keys of the device's last snapshot. Canonical state
// (graylogic/core/device/{device}/state) carries a complete snapshot
// document that replaces the previous one.
type StateSync struct {
	bus       Bus
	engine    DeviceSink
	store     device.Store
	telemetry TraitWriter
	logger    Logger
	qos       byte
}

// NewStateSync creates a StateSync. Call Start to subscribe.
func NewStateSync(opts StateSyncOptions) (*StateSync, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("bridge: bus is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("bridge: engine is required")
	}
	return &StateSync{
		bus:       opts.Bus,
		engine:    opts.Engine,
		store:     opts.Store,
		telemetry: opts.Telemetry,
		logger:    orNoop(opts.Logger),
		qos:       opts.QoS,
	}, nil
}

// Start subscribes to both state topic families.
func (s *StateSync) Start() error {
	topics := mqtt.Topics{}
	for _, topic := range []string{topics.AllBridgeStates(), topics.AllCoreDeviceStates()} {
		if err := s.bus.Subscribe(topic, s.qos, s.Handle); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		s.logger.Info("subscribed to device state", "topic", topic)
	}
	return nil
}

// Handle processes one state message. It is the MQTT handler installed by
// Start and is exported for replay tools and tests.
func (s *StateSync) Handle(topic string, payload []byte) error {
	topicID, ok := mqtt.DeviceIDFromStateTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	var (
		snap device.Snapshot
		ts   time.Time
		err  error
	)
	if strings.HasPrefix(topic, mqtt.TopicRoot+"/core/") {
		snap, err = s.decodeCanonical(topicID, payload)
	} else {
		snap, ts, err = s.mergeBridgeState(topicID, payload)
	}
	if err != nil {
		return err
	}

	if err := s.engine.HandleDeviceUpdate(snap); err != nil {
		return fmt.Errorf("device %q: %w", snap.ID, err)
	}

	if s.store != nil {
		if err := s.store.Save(context.Background(), snap); err != nil {
			s.logger.Warn("failed to persist device state", "device_id", snap.ID, "error", err)
		}
	}
	if s.telemetry != nil {
		if ts.IsZero() {
			ts = time.Now()
		}
		s.telemetry.WriteDeviceTraits(snap.ID, snap.Traits, ts)
	}

	s.logger.Debug("device state applied", "device_id", snap.ID, "topic", topic)
	return nil
}

// decodeCanonical parses a full snapshot document. The topic names the
// device; an id in the payload is optional.
func (s *StateSync) decodeCanonical(topicID string, payload []byte) (device.Snapshot, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return device.Snapshot{}, fmt.Errorf("decoding snapshot for %q: %w", topicID, err)
	}
	if doc == nil {
		return device.Snapshot{}, fmt.Errorf("decoding snapshot for %q: %w", topicID, device.ErrInvalidSnapshot)
	}
	if id, _ := doc["id"].(string); id != "" && id != topicID {
		s.logger.Warn("snapshot id does not match topic; using topic id",
			"device_id", topicID, "payload_id", id)
	}
	doc["id"] = topicID

	normalised, err := json.Marshal(doc)
	if err != nil {
		return device.Snapshot{}, fmt.Errorf("decoding snapshot for %q: %w", topicID, err)
	}
	snap, err := device.ParseSnapshot(normalised)
	if err != nil {
		return device.Snapshot{}, fmt.Errorf("decoding snapshot for %q: %w", topicID, err)
	}
	return snap, nil
}

func (s *StateSync) mergeBridgeState(topicID string, payload []byte) (device.Snapshot, time.Time, error) {
	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return device.Snapshot{}, time.Time{}, fmt.Errorf("decoding state for %q: %w", topicID, err)
	}
	if msg.DeviceID != "" && msg.DeviceID != topicID {
		s.logger.Warn("state device_id does not match topic; using topic id",
			"device_id", topicID, "payload_id", msg.DeviceID)
	}

	snap, ok := s.engine.DeviceSnapshot(topicID)
	if !ok {
		snap = device.Snapshot{ID: topicID}
	}
	if snap.Traits == nil {
		snap.Traits = make(map[string]any, len(msg.State))
	}
	maps.Copy(snap.Traits, msg.State)

	if msg.Protocol != "" {
		if snap.Extra == nil {
			snap.Extra = make(map[string]any)
		}
		snap.Extra["protocol"] = msg.Protocol
	}
	return snap, msg.Timestamp, nil
}
