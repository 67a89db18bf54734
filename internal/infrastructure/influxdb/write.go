package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/procpipe/internal/lifecycle"
)

// RunMeasurement is the measurement written for finished runs.
const RunMeasurement = "process_runs"

// maxCommandTag bounds the command tag to keep series keys small.
const maxCommandTag = 128

// WriteRunMetric records a finished or failed run. Other event types are
// ignored. The write is non-blocking.
func (c *Client) WriteRunMetric(e lifecycle.Event) {
	tags, fields, ok := runPoint(e)
	if !ok {
		return
	}
	c.WritePointWithTime(RunMeasurement, tags, fields, e.Time)
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp. A zero
// timestamp means now.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}

// runPoint maps a terminal event to tags and fields.
func runPoint(e lifecycle.Event) (map[string]string, map[string]interface{}, bool) {
	if !e.Terminal() {
		return nil, nil, false
	}

	command := e.Command
	if len(command) > maxCommandTag {
		command = command[:maxCommandTag]
	}

	tags := map[string]string{
		"command": command,
		"state":   e.Outcome(),
	}
	if e.Signal != "" {
		tags["signal"] = e.Signal
	}

	fields := map[string]interface{}{
		"exit_code":   int64(e.ExitCode),
		"duration_ms": e.Duration.Milliseconds(),
	}
	if e.PID > 0 {
		fields["pid"] = int64(e.PID)
	}

	return tags, fields, true
}
