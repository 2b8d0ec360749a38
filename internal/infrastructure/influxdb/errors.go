package influxdb

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned when the server cannot be reached at
	// startup or reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled is returned by Connect when the influxdb section is off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
