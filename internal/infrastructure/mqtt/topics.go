package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "procpipe"

// Topics builds procpipe MQTT topics under a configurable prefix.
//
//	topics := mqtt.NewTopics("lab")
//	topics.RunState("3f0c...")   // "lab/run/3f0c.../state"
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, trimming stray slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus is the retained online/offline topic for this supervisor.
//
// Example: procpipe/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// RunEvent carries every lifecycle event of a run. Not retained.
//
// Example: procpipe/run/{id}/event
func (t Topics) RunEvent(runID string) string {
	return fmt.Sprintf("%s/run/%s/event", t.prefix(), runID)
}

// RunState carries the latest state of a run. Retained.
//
// Example: procpipe/run/{id}/state
func (t Topics) RunState(runID string) string {
	return fmt.Sprintf("%s/run/%s/state", t.prefix(), runID)
}

// ControlStop receives remote stop requests for a run.
//
// Example: procpipe/control/stop/{id}
func (t Topics) ControlStop(runID string) string {
	return fmt.Sprintf("%s/control/stop/%s", t.prefix(), runID)
}

// AllRunEvents matches the event topic of every run.
//
// Pattern: procpipe/run/+/event
func (t Topics) AllRunEvents() string {
	return t.prefix() + "/run/+/event"
}

// AllControlStop matches stop requests for every run.
//
// Pattern: procpipe/control/stop/+
func (t Topics) AllControlStop() string {
	return t.prefix() + "/control/stop/+"
}

// RunIDFromControlStop extracts the run id from a control/stop topic.
func (t Topics) RunIDFromControlStop(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/control/stop/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
