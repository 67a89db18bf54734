package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StopRequest asks the supervisor to signal a run. An empty Signal means
// the configured stop signal.
type StopRequest struct {
	RunID  string `json:"-"`
	Signal string `json:"signal"`
}

// ParseStopRequest decodes a control/stop message. The payload may be
// empty, a JSON object {"signal":"SIGINT"}, or a bare signal name.
func ParseStopRequest(topics Topics, topic string, payload []byte) (StopRequest, error) {
	runID, ok := topics.RunIDFromControlStop(topic)
	if !ok {
		return StopRequest{}, fmt.Errorf("%w: %q is not a stop topic", ErrInvalidTopic, topic)
	}
	req := StopRequest{RunID: runID}

	payload = bytes.TrimSpace(payload)
	switch {
	case len(payload) == 0:
	case payload[0] == '{':
		if err := json.Unmarshal(payload, &req); err != nil {
			return StopRequest{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	default:
		req.Signal = string(payload)
	}
	return req, nil
}

// StopHandler adapts fn to a MessageHandler for control/stop topics.
func StopHandler(topics Topics, fn func(StopRequest)) MessageHandler {
	return func(topic string, payload []byte) error {
		req, err := ParseStopRequest(topics, topic, payload)
		if err != nil {
			return err
		}
		fn(req)
		return nil
	}
}

// SubscribeStopRequests routes stop requests for runID to fn.
func (c *Client) SubscribeStopRequests(runID string, fn func(StopRequest)) error {
	return c.Subscribe(c.topics.ControlStop(runID), c.QoS(), StopHandler(c.topics, fn))
}
