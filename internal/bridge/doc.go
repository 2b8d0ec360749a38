// Package bridge connects the automation engine to the outside world.
//
// Inbound, StateSync subscribes to device state on the MQTT bus, keeps the
// snapshot store current and feeds every update to the engine. Outbound,
// CommandPublisher is the engine's Publisher, and RunAnnouncer and
// RunTelemetry are RunRecorders that report finished runs on the bus and
// to InfluxDB.
package bridge
