package influxdb

import (
	"context"
	"time"

	"github.com/nerrad567/procpipe/internal/lifecycle"
)

// PointWriter is the write side of Client used by EventSink.
type PointWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// EventSink records terminal lifecycle events as run metrics.
type EventSink struct {
	w PointWriter
}

// NewEventSink returns a sink writing through w.
func NewEventSink(w PointWriter) *EventSink {
	return &EventSink{w: w}
}

// Publish implements lifecycle.Sink. Non-terminal events are skipped.
func (s *EventSink) Publish(ctx context.Context, e lifecycle.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tags, fields, ok := runPoint(e)
	if !ok {
		return nil
	}
	s.w.WritePointWithTime(RunMeasurement, tags, fields, e.Time)
	return nil
}
