// Package influxdb records bridge telemetry in InfluxDB v2.
//
// Two measurements are written:
//
//	remoterelay_poll     tags entry, device; fields success, duration_ms, power_on, sources
//	remoterelay_command  tags entry, device, command; fields success
//
// Telemetry is optional. Connect returns ErrDisabled when influxdb.enabled is
// false and the bridge runs without it. Writes never block the caller.
package influxdb
