// Package mqtt is the rules engine's connection to the Gray Logic message
// bus.
//
// The engine reads device state that bridges and Core publish, and writes
// device commands and run announcements:
//
//	graylogic/state/{protocol}/{device}        bridge state (in)
//	graylogic/core/device/{device}/state       canonical state (in)
//	graylogic/command/{device}                 device command (out)
//	graylogic/core/automation/{id}/fired       run announcement (out)
//	graylogic/system/rules/status              retained online/offline (out)
//
// The client reconnects with backoff and restores its subscriptions. A
// retained offline will is registered so other services notice a crash.
//
//	client, err := mqtt.Connect(cfg.MQTT, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
