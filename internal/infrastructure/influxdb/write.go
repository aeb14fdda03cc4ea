package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPoll    = "remoterelay_poll"
	MeasurementCommand = "remoterelay_command"
)

// RecordPoll writes one device profile refresh as a remoterelay_poll point.
//
// Parameters:
//   - entryID: entry the coordinator belongs to (tag "entry")
//   - deviceID: bound daemon device id (tag "device", omitted when empty)
//   - success: whether the daemon answered
//   - duration: round trip of the refresh
//   - powerOn: media state derived from the profile
//   - sources: number of advertised input sources
//
// Non-blocking. Points are batched and flushed in the background.
func (c *Client) RecordPoll(entryID, deviceID string, success bool, duration time.Duration, powerOn bool, sources int) {
	c.write(pollPoint(entryID, deviceID, success, duration, powerOn, sources, time.Now()))
}

// RecordCommand writes one dispatched daemon command as a
// remoterelay_command point tagged with the command name.
//
// Non-blocking, like RecordPoll.
func (c *Client) RecordCommand(entryID, deviceID, command string, success bool) {
	c.write(commandPoint(entryID, deviceID, command, success, time.Now()))
}

// WritePoint writes an arbitrary point stamped now.
//
// Parameters:
//   - measurement: measurement name
//   - tags: indexed string tags; empty values are rejected by the server
//   - fields: the point's values
//
// Example:
//
//	client.WritePoint("remoterelay_wake", map[string]string{"entry": id}, map[string]interface{}{"macs": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func pollPoint(entryID, deviceID string, success bool, duration time.Duration, powerOn bool, sources int, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementPoll,
		deviceTags(entryID, deviceID),
		map[string]interface{}{
			"success":     success,
			"duration_ms": duration.Milliseconds(),
			"power_on":    powerOn,
			"sources":     sources,
		},
		ts,
	)
}

func commandPoint(entryID, deviceID, command string, success bool, ts time.Time) *write.Point {
	tags := deviceTags(entryID, deviceID)
	tags["command"] = command
	return write.NewPoint(MeasurementCommand, tags,
		map[string]interface{}{"success": success},
		ts,
	)
}

// deviceTags omits an empty device id; InfluxDB rejects empty tag values.
func deviceTags(entryID, deviceID string) map[string]string {
	tags := map[string]string{"entry": entryID}
	if deviceID != "" {
		tags["device"] = deviceID
	}
	return tags
}
