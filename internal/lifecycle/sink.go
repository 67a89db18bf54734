package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// Sink consumes lifecycle events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event Event) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Logger defines the logging interface for the fanout.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers each event to every registered sink in registration order.
// A failing sink is logged and does not stop delivery to the others.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []namedSink
	logger Logger
}

// NewFanout creates an empty Fanout. A nil logger discards failures.
func NewFanout(logger Logger) *Fanout {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Fanout{logger: logger}
}

// Add registers a sink under name. Nil sinks are ignored.
func (f *Fanout) Add(name string, sink Sink) {
	if sink == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	f.mu.Unlock()
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Publish implements Sink. It returns the joined sink errors so callers
// that care can inspect them; the runner ignores them.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	f.mu.RLock()
	sinks := make([]namedSink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.sink.Publish(ctx, event); err != nil {
			f.logger.Warn("lifecycle sink failed",
				"sink", s.name,
				"run_id", event.RunID,
				"event", string(event.Type),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		f.logger.Debug("lifecycle event delivered", "sink", s.name, "event", string(event.Type))
	}
	return errors.Join(errs...)
}
