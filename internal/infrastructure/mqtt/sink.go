package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/procpipe/internal/lifecycle"
)

// Publisher is the subset of Client the event sink needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// RunState is the retained payload on {prefix}/run/{id}/state.
type RunState struct {
	RunID    string `json:"run_id"`
	State    string `json:"state"`
	Command  string `json:"command"`
	PID      int    `json:"pid,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Updated  string `json:"updated"`
}

// EventSink publishes lifecycle events: every event on the run's event
// topic, and the resulting state retained on its state topic.
type EventSink struct {
	pub    Publisher
	topics Topics
	qos    byte
}

// NewEventSink creates a sink publishing through pub.
func NewEventSink(pub Publisher, topics Topics, qos byte) *EventSink {
	return &EventSink{pub: pub, topics: topics, qos: qos}
}

// NewClientSink creates a sink on a connected client with its own prefix
// and QoS.
func NewClientSink(c *Client) *EventSink {
	return NewEventSink(c, c.Topics(), c.QoS())
}

// Publish implements lifecycle.Sink.
func (s *EventSink) Publish(_ context.Context, e lifecycle.Event) error {
	if e.RunID == "" {
		return fmt.Errorf("%w: event without run id", ErrInvalidTopic)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := s.pub.Publish(s.topics.RunEvent(e.RunID), data, s.qos, false); err != nil {
		return err
	}

	state, err := json.Marshal(runStateFor(e))
	if err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}
	return s.pub.Publish(s.topics.RunState(e.RunID), state, s.qos, true)
}

func runStateFor(e lifecycle.Event) RunState {
	rs := RunState{
		RunID:   e.RunID,
		Command: e.Command,
		PID:     e.PID,
		Updated: e.Time.UTC().Format(time.RFC3339Nano),
	}
	switch e.Type {
	case lifecycle.TypeStarted:
		rs.State = "running"
	case lifecycle.TypeStopRequested:
		rs.State = "stopping"
		rs.Signal = e.Signal
	case lifecycle.TypeExited:
		code := e.ExitCode
		rs.State = "exited"
		rs.ExitCode = &code
		rs.Signal = e.Signal
	case lifecycle.TypeLaunchFailed:
		rs.State = "launch_failed"
	default:
		rs.State = string(e.Type)
	}
	return rs
}

var _ lifecycle.Sink = (*EventSink)(nil)
