package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/procpipe/internal/infrastructure/config"
	"github.com/nerrad567/procpipe/internal/lifecycle"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "procpipe-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "test",
	}
}

func TestTopics(t *testing.T) {
	topics := NewTopics("/lab/")

	tests := []struct {
		got, want string
	}{
		{topics.SystemStatus(), "lab/system/status"},
		{topics.RunEvent("r1"), "lab/run/r1/event"},
		{topics.RunState("r1"), "lab/run/r1/state"},
		{topics.ControlStop("r1"), "lab/control/stop/r1"},
		{topics.AllRunEvents(), "lab/run/+/event"},
		{topics.AllControlStop(), "lab/control/stop/+"},
		{Topics{}.SystemStatus(), "procpipe/system/status"},
		{NewTopics("").RunEvent("x"), "procpipe/run/x/event"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}

func TestRunIDFromControlStop(t *testing.T) {
	topics := NewTopics("lab")

	id, ok := topics.RunIDFromControlStop("lab/control/stop/abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	for _, bad := range []string{"lab/control/stop/", "lab/control/stop/a/b", "other/control/stop/abc", "lab/run/abc/event"} {
		_, ok := topics.RunIDFromControlStop(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseStopRequest(t *testing.T) {
	topics := NewTopics("lab")
	topic := topics.ControlStop("r9")

	tests := []struct {
		name    string
		payload string
		signal  string
	}{
		{"empty", "", ""},
		{"whitespace", "  \n", ""},
		{"json", `{"signal":"SIGINT"}`, "SIGINT"},
		{"bare", "KILL", "KILL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseStopRequest(topics, topic, []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, "r9", req.RunID)
			assert.Equal(t, tt.signal, req.Signal)
		})
	}

	_, err := ParseStopRequest(topics, topic, []byte(`{"signal":`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseStopRequest(topics, "lab/elsewhere", nil)
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestStopHandler(t *testing.T) {
	topics := NewTopics("lab")
	var got []StopRequest
	h := StopHandler(topics, func(r StopRequest) { got = append(got, r) })

	require.NoError(t, h(topics.ControlStop("a"), []byte("TERM")))
	assert.Error(t, h("lab/nope", nil))
	assert.Equal(t, []StopRequest{{RunID: "a", Signal: "TERM"}}, got)
}

func TestValidatePublish(t *testing.T) {
	assert.ErrorIs(t, validatePublish("", nil, 0), ErrInvalidTopic)
	assert.ErrorIs(t, validatePublish("t", nil, 3), ErrInvalidQoS)
	assert.ErrorIs(t, validatePublish("t", make([]byte, maxPayloadSize+1), 1), ErrPublishFailed)
	assert.NoError(t, validatePublish("t", nil, 2))
}

func TestStatusPayloads(t *testing.T) {
	var online, offline statusPayload
	require.NoError(t, json.Unmarshal(buildOnlinePayload("c1"), &online))
	require.NoError(t, json.Unmarshal(buildOfflinePayload("c1"), &offline))

	assert.Equal(t, "online", online.Status)
	assert.Equal(t, "c1", online.ClientID)
	assert.Empty(t, online.Reason)
	assert.Equal(t, "offline", offline.Status)
	assert.Equal(t, "graceful_shutdown", offline.Reason)

	_, err := time.Parse(time.RFC3339, online.Timestamp)
	assert.NoError(t, err)
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "user"
	cfg.Auth.Password = "pass"

	opts := buildClientOptions(cfg)

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "ssl://127.0.0.1:1883", opts.Servers[0].String())
	assert.Equal(t, "procpipe-test", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.True(t, opts.AutoReconnect)
	assert.NotNil(t, opts.TLSConfig)
}

// =============================================================================
// Event sink
// =============================================================================

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, payload, qos, retained})
	return nil
}

func TestEventSink_PublishesEventAndRetainedState(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewEventSink(pub, NewTopics("lab"), 1)

	err := sink.Publish(context.Background(), lifecycle.Event{
		RunID:    "r1",
		Type:     lifecycle.TypeExited,
		Command:  "sleep 30",
		PID:      99,
		ExitCode: -1,
		Signal:   "SIGTERM",
		Time:     time.Now(),
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 2)

	assert.Equal(t, "lab/run/r1/event", pub.msgs[0].topic)
	assert.False(t, pub.msgs[0].retained)
	var ev lifecycle.Event
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &ev))
	assert.Equal(t, lifecycle.TypeExited, ev.Type)

	assert.Equal(t, "lab/run/r1/state", pub.msgs[1].topic)
	assert.True(t, pub.msgs[1].retained)
	var st RunState
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &st))
	assert.Equal(t, "exited", st.State)
	require.NotNil(t, st.ExitCode)
	assert.Equal(t, -1, *st.ExitCode)
	assert.Equal(t, "SIGTERM", st.Signal)
}

func TestEventSink_Errors(t *testing.T) {
	pub := &fakePublisher{err: ErrNotConnected}
	sink := NewEventSink(pub, NewTopics("lab"), 0)

	err := sink.Publish(context.Background(), lifecycle.Event{RunID: "r1", Type: lifecycle.TypeStarted})
	assert.True(t, errors.Is(err, ErrNotConnected))

	err = sink.Publish(context.Background(), lifecycle.Event{Type: lifecycle.TypeStarted})
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestRunStateFor(t *testing.T) {
	for typ, want := range map[lifecycle.Type]string{
		lifecycle.TypeStarted:       "running",
		lifecycle.TypeStopRequested: "stopping",
		lifecycle.TypeExited:        "exited",
		lifecycle.TypeLaunchFailed:  "launch_failed",
	} {
		assert.Equal(t, want, runStateFor(lifecycle.Event{RunID: "x", Type: typ}).State)
	}
}

// =============================================================================
// Client without a broker
// =============================================================================

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 1 // Nothing listens here

	_, err := Connect(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestClient_ZeroValueIsDisconnected(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription), topics: NewTopics("t")}

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish("t/x", nil, 0, false), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("t/x", 0, func(string, []byte) error { return nil }), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("t/x", 0, nil), ErrSubscribeFailed)
	assert.ErrorIs(t, c.Unsubscribe("t/x"), ErrNotConnected)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
	assert.Zero(t, c.SubscriptionCount())
	assert.False(t, c.HasSubscription("t/x"))
	assert.NoError(t, c.Close())

	var nilClient *Client
	assert.NoError(t, nilClient.Close())
}

func TestClient_HealthCheckCancelled(t *testing.T) {
	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.HealthCheck(ctx)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "canceled"))
}
