package mqtt

import (
	"fmt"
	"strings"
)

// TopicRoot prefixes every Gray Logic topic.
const TopicRoot = "graylogic"

// Topics builds the topics the rules engine reads and writes.
//
// Device state arrives on two routes: raw bridge state
// (graylogic/state/{protocol}/{device}) and the canonical state re-published
// by Core (graylogic/core/device/{device}/state). Commands go out per device
// on graylogic/command/{device}.
type Topics struct{}

// BridgeState is a bridge's state topic for one device.
//
// Example: graylogic/state/knx/light-living
func (Topics) BridgeState(protocol, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicRoot, protocol, deviceID)
}

// CoreDeviceState is Core's canonical state topic for one device.
//
// Example: graylogic/core/device/light-living/state
func (Topics) CoreDeviceState(deviceID string) string {
	return fmt.Sprintf("%s/core/device/%s/state", TopicRoot, deviceID)
}

// Command is the command topic for one device.
//
// Example: graylogic/command/light-living
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicRoot, deviceID)
}

// AutomationFired announces a finished automation run.
//
// Example: graylogic/core/automation/dusk-lights/fired
func (Topics) AutomationFired(automationID string) string {
	return fmt.Sprintf("%s/core/automation/%s/fired", TopicRoot, automationID)
}

// SystemStatus carries the retained online/offline status of this service.
func (Topics) SystemStatus() string {
	return TopicRoot + "/system/rules/status"
}

// AllBridgeStates matches every bridge state topic.
func (Topics) AllBridgeStates() string {
	return TopicRoot + "/state/+/+"
}

// AllCoreDeviceStates matches every canonical device state topic.
func (Topics) AllCoreDeviceStates() string {
	return TopicRoot + "/core/device/+/state"
}

// DeviceIDFromStateTopic extracts the device id from either state topic
// shape. It reports false for any other topic.
func DeviceIDFromStateTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) == 4 && parts[0] == TopicRoot && parts[1] == "state":
		return parts[3], parts[3] != ""
	case len(parts) == 5 && parts[0] == TopicRoot && parts[1] == "core" &&
		parts[2] == "device" && parts[4] == "state":
		return parts[3], parts[3] != ""
	default:
		return "", false
	}
}
