// Package influxdb records procpipe run metrics in InfluxDB v2.
//
// Each finished run becomes one point in the process_runs measurement:
//
//	tags:   command, state (success, exit_N, signaled, launch_failed), signal
//	fields: pid, exit_code, duration_ms
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	fanout.Add("influxdb", influxdb.NewEventSink(client))
//
// Writes are batched per batch_size and flush_interval and never block the
// caller.
package influxdb
