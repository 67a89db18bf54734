package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/procpipe/internal/auth"
	"github.com/nerrad567/procpipe/internal/history"
	"github.com/nerrad567/procpipe/internal/infrastructure/config"
	"github.com/nerrad567/procpipe/internal/infrastructure/logging"
	"github.com/nerrad567/procpipe/internal/lifecycle"
	"github.com/nerrad567/procpipe/internal/process"
	"github.com/nerrad567/procpipe/internal/runner"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeSupervisor stands in for a live runner.
type fakeSupervisor struct {
	mu      sync.Mutex
	status  runner.Status
	stopErr error
	stops   []syscall.Signal
}

func (f *fakeSupervisor) Snapshot() runner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSupervisor) RequestStop(_ context.Context, sig syscall.Signal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return false, f.stopErr
	}
	f.stops = append(f.stops, sig)
	return true, nil
}

// memoryRepo is an in-memory history.Repository.
type memoryRepo struct {
	runs []history.Run
}

func (m *memoryRepo) Create(_ context.Context, run history.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *memoryRepo) Finish(context.Context, string, history.Outcome) error { return nil }

func (m *memoryRepo) Get(_ context.Context, id string) (history.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return history.Run{}, history.ErrRunNotFound
}

func (m *memoryRepo) List(_ context.Context, limit int) ([]history.Run, error) {
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	return m.runs[:limit], nil
}

func runningSupervisor() *fakeSupervisor {
	return &fakeSupervisor{status: runner.Status{
		RunID:     "run-1",
		Command:   "sleep 30",
		Phase:     runner.PhaseRunning,
		StartedAt: time.Now().Add(-time.Minute),
		Process:   process.Snapshot{PID: 4242, Running: true, ExitCode: -1},
	}}
}

func testDeps() Deps {
	return Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:     config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:  logging.Discard(),
		Version: "test",
	}
}

func testServer(t *testing.T, mutate func(*Deps)) *Server {
	t.Helper()
	deps := testDeps()
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	require.NoError(t, err)
	return srv
}

func token(t *testing.T, scope auth.Scope) string {
	t.Helper()
	tok, err := auth.GenerateToken("tester", scope, testSecret, time.Minute)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNew_RequiresLoggerAndSecret(t *testing.T) {
	deps := testDeps()
	deps.Logger = nil
	_, err := New(deps)
	assert.Error(t, err)

	deps = testDeps()
	deps.Security.JWT.Secret = ""
	_, err = New(deps)
	assert.Error(t, err)
}

func TestHealth_NoAuth(t *testing.T) {
	h := testServer(t, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
}

func TestRequestID(t *testing.T) {
	h := testServer(t, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/health", "", "")
	assert.Len(t, w.Header().Get("X-Request-ID"), 2*requestIDBytes)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-id", rec.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	h := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://ui.local"}
	}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/process", nil)
	req.Header.Set("Origin", "http://ui.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://ui.local", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/process", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound(t *testing.T) {
	w := do(t, testServer(t, nil).Handler(), http.MethodGet, "/api/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decode[Error](t, w).Code)
}

func TestAuth_Required(t *testing.T) {
	h := testServer(t, func(d *Deps) { d.Process = runningSupervisor() }).Handler()

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/process", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		})
	}

	other, err := auth.GenerateToken("x", auth.ScopeRead, strings.Repeat("z", 40), time.Minute)
	require.NoError(t, err)
	w := do(t, h, http.MethodGet, "/api/v1/process", other, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetProcess(t *testing.T) {
	h := testServer(t, func(d *Deps) { d.Process = runningSupervisor() }).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/process", token(t, auth.ScopeRead), "")
	require.Equal(t, http.StatusOK, w.Code)

	st := decode[runner.Status](t, w)
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, runner.PhaseRunning, st.Phase)
	assert.Equal(t, 4242, st.Process.PID)
	assert.True(t, st.Process.Running)
}

func TestGetProcess_Unavailable(t *testing.T) {
	h := testServer(t, nil).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/process", token(t, auth.ScopeRead), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStopProcess(t *testing.T) {
	sup := runningSupervisor()
	h := testServer(t, func(d *Deps) {
		d.Process = sup
		d.StopSignal = syscall.SIGTERM
	}).Handler()
	control := token(t, auth.ScopeControl)

	w := do(t, h, http.MethodPost, "/api/v1/process/stop", token(t, auth.ScopeRead), `{"signal":"INT"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, sup.stops)

	w = do(t, h, http.MethodPost, "/api/v1/process/stop", control, `{"signal":"INT"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[stopResponse](t, w)
	assert.True(t, resp.Dispatched)
	assert.Equal(t, "SIGINT", resp.Signal)
	assert.Equal(t, "run-1", resp.RunID)

	w = do(t, h, http.MethodPost, "/api/v1/process/stop", control, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "SIGTERM", decode[stopResponse](t, w).Signal)

	assert.Equal(t, []syscall.Signal{syscall.SIGINT, syscall.SIGTERM}, sup.stops)
}

func TestStopProcess_Errors(t *testing.T) {
	sup := runningSupervisor()
	h := testServer(t, func(d *Deps) { d.Process = sup }).Handler()
	control := token(t, auth.ScopeControl)

	w := do(t, h, http.MethodPost, "/api/v1/process/stop", control, `{"signal":"SIGNOPE"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/process/stop", control, `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sup.stopErr = runner.ErrNotRunning
	w = do(t, h, http.MethodPost, "/api/v1/process/stop", control, `{}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRuns(t *testing.T) {
	code := 0
	repo := &memoryRepo{runs: []history.Run{
		{ID: "b", Command: "true", State: history.StateExited, ExitCode: &code, StartedAt: time.Now()},
		{ID: "a", Command: "sleep 1", State: history.StateRunning, StartedAt: time.Now().Add(-time.Hour)},
	}}
	h := testServer(t, func(d *Deps) { d.History = repo }).Handler()
	read := token(t, auth.ScopeRead)

	w := do(t, h, http.MethodGet, "/api/v1/runs", read, "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Runs  []history.Run `json:"runs"`
		Count int           `json:"count"`
	}](t, w)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "b", list.Runs[0].ID)

	w = do(t, h, http.MethodGet, "/api/v1/runs?limit=1", read, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	for _, bad := range []string{"0", "-1", "abc", "501"} {
		w = do(t, h, http.MethodGet, "/api/v1/runs?limit="+bad, read, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", bad)
	}

	w = do(t, h, http.MethodGet, "/api/v1/runs/b", read, "")
	require.Equal(t, http.StatusOK, w.Code)
	run := decode[history.Run](t, w)
	assert.Equal(t, "true", run.Command)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)

	w = do(t, h, http.MethodGet, "/api/v1/runs/missing", read, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns_EmptyListIsArray(t *testing.T) {
	h := testServer(t, func(d *Deps) { d.History = &memoryRepo{} }).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/runs", token(t, auth.ScopeRead), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"runs":[]`)
}

func TestRuns_HistoryDisabled(t *testing.T) {
	h := testServer(t, nil).Handler()
	read := token(t, auth.ScopeRead)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/runs", read, "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/v1/runs/x", read, "").Code)
}

type fakeMQTT bool

func (f fakeMQTT) IsConnected() bool { return bool(f) }

func TestMetrics(t *testing.T) {
	h := testServer(t, func(d *Deps) {
		d.Process = runningSupervisor()
		d.MQTT = fakeMQTT(true)
	}).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/metrics", token(t, auth.ScopeRead), "")
	require.Equal(t, http.StatusOK, w.Code)

	m := decode[SystemMetrics](t, w)
	assert.Equal(t, "test", m.Version)
	assert.Positive(t, m.Runtime.Goroutines)
	require.NotNil(t, m.MQTT)
	assert.True(t, m.MQTT.Connected)
	require.NotNil(t, m.Run)
	assert.Equal(t, "running", m.Run.Phase)
	assert.Equal(t, 4242, m.Run.PID)
	assert.GreaterOrEqual(t, m.Run.Uptime, int64(59))
	assert.Nil(t, m.Database)
}

func TestWSTicket_SingleUse(t *testing.T) {
	srv := testServer(t, nil)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/auth/ws-ticket", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/auth/ws-ticket", token(t, auth.ScopeRead), "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	ticket, _ := resp["ticket"].(string)
	require.NotEmpty(t, ticket)

	entry, ok := srv.tickets.redeem(ticket)
	assert.True(t, ok)
	assert.Equal(t, "tester", entry.subject)

	_, ok = srv.tickets.redeem(ticket)
	assert.False(t, ok, "tickets are single-use")
}

func TestWSTicket_Expiry(t *testing.T) {
	ts := newTicketStore()
	ticket := generateTicket()
	ts.tickets[ticket] = ticketEntry{subject: "x", expiresAt: time.Now().Add(-time.Second)}

	_, ok := ts.redeem(ticket)
	assert.False(t, ok)

	ts.tickets["stale"] = ticketEntry{expiresAt: time.Now().Add(-time.Second)}
	ts.tickets["fresh"] = ticketEntry{expiresAt: time.Now().Add(time.Minute)}
	ts.cleanExpired()
	assert.NotContains(t, ts.tickets, "stale")
	assert.Contains(t, ts.tickets, "fresh")
}

func TestHub_PublishToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, nil)

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelLifecycle: {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"something.else": {}},
	}
	hub.Register(subscribed)
	hub.Register(other)
	assert.Equal(t, 2, hub.ClientCount())

	err := hub.Publish(context.Background(), lifecycle.Event{
		RunID: "run-1", Type: lifecycle.TypeExited, ExitCode: 3,
	})
	require.NoError(t, err)

	select {
	case msg := <-subscribed.send:
		var wsMsg struct {
			Type      string          `json:"type"`
			EventType string          `json:"event_type"`
			Payload   lifecycle.Event `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(msg, &wsMsg))
		assert.Equal(t, WSTypeEvent, wsMsg.Type)
		assert.Equal(t, ChannelLifecycle, wsMsg.EventType)
		assert.Equal(t, lifecycle.TypeExited, wsMsg.Payload.Type)
		assert.Equal(t, 3, wsMsg.Payload.ExitCode)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive the event")
	default:
	}

	hub.Unregister(subscribed)
	hub.Unregister(subscribed)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestWebSocket_StreamsLifecycleEvents(t *testing.T) {
	srv := testServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Hub().Run(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	header := http.Header{"Authorization": []string{"Bearer " + token(t, auth.ScopeRead)}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	resp.Body.Close()

	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Hub().Publish(context.Background(), lifecycle.Event{
		RunID: "run-9", Type: lifecycle.TypeStarted, PID: 77,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		EventType string          `json:"event_type"`
		Payload   lifecycle.Event `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ChannelLifecycle, msg.EventType)
	assert.Equal(t, "run-9", msg.Payload.RunID)
	assert.Equal(t, 77, msg.Payload.PID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}))
	var pong WSMessage
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, WSTypePong, pong.Type)
	assert.Equal(t, "p1", pong.ID)
}
