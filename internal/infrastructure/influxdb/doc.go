// Package influxdb writes rules engine telemetry to InfluxDB v2 using the
// official influxdb-client-go library.
//
// Two measurements are written:
//
//	automation_runs  one point per finished run (tags: automation_id,
//	                 trigger, status; fields: run_id, steps, duration_ms,
//	                 failed)
//	device_traits    numeric and boolean trait leaves of each device
//	                 update seen on the bus (tag: device_id)
//
// Every point also carries a site tag. Writes never block the caller;
// batching follows the batch_size and flush_interval settings.
package influxdb
