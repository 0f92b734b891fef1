package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rowanhale/hearth-core/internal/capability"
	"github.com/rowanhale/hearth-core/internal/hub"
	"github.com/rowanhale/hearth-core/internal/infrastructure/config"
	"github.com/rowanhale/hearth-core/internal/infrastructure/logging"
)

// fakeExecutor records commands and replies with a canned ack or error.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []hub.Command
	ack      *hub.Ack
	err      error
}

func (f *fakeExecutor) Execute(_ context.Context, cmd hub.Command) (*hub.Ack, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.ack != nil {
		return f.ack, nil
	}
	return &hub.Ack{
		CommandID: uuid.New(),
		DeviceID:  cmd.DeviceID,
		Feature:   cmd.Feature,
		Value:     cmd.Value,
		Revision:  2,
	}, nil
}

func (f *fakeExecutor) executed() []hub.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]hub.Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// fakeRefresher records refresh requests.
type fakeRefresher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeRefresher) RefreshDevice(id string) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
}

func climateSnapshot(id string, available bool) *capability.Snapshot {
	return &capability.Snapshot{
		Identity: capability.Identity{
			ID:     id,
			Vendor: "sensibo",
			Kind:   capability.KindClimate,
			Name:   "Bedroom",
		},
		Attributes: capability.Attributes{
			capability.FeaturePower:             true,
			capability.FeatureMode:              "cool",
			capability.FeatureTargetTemperature: 21.0,
		},
		Available: available,
		Schema:    capability.SchemaVersion,
	}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server backed by a real store with one registered device.
func testServer(t *testing.T) (*Server, *fakeExecutor, *fakeRefresher) {
	t.Helper()

	broker := hub.NewBroker()
	t.Cleanup(broker.Close)
	store := hub.NewStore(broker)

	snap := climateSnapshot("pod-1", true)
	if err := store.Register(context.Background(), snap.Identity, snap); err != nil {
		t.Fatalf("Register: %v", err)
	}

	exec := &fakeExecutor{}
	refresher := &fakeRefresher{}
	log := testLogger()

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     log,
		Store:      store,
		Dispatcher: exec,
		Broker:     broker,
		Refresher:  refresher,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests that broadcast without Start()
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(context.Background())

	return srv, exec, refresher
}

// ===== Health and Middleware =====

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if int(resp["devices"].(float64)) != 1 {
		t.Errorf("devices = %v, want 1", resp["devices"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

// ===== Device Endpoints =====

func TestListDevices(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestListDevices_Filters(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		query string
		want  int
	}{
		{"vendor=sensibo", 1},
		{"vendor=mitv", 0},
		{"kind=climate", 1},
		{"kind=tv", 0},
		{"available=true", 1},
		{"available=false", 0},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/devices?"+tt.query, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		var resp map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: unmarshal: %v", tt.query, err)
		}
		if int(resp["count"].(float64)) != tt.want {
			t.Errorf("%s: count = %v, want %d", tt.query, resp["count"], tt.want)
		}
	}
}

func TestGetDevice(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/pod-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		DeviceID string               `json:"device_id"`
		Revision uint64               `json:"revision"`
		Snapshot *capability.Snapshot `json:"snapshot"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.DeviceID != "pod-1" {
		t.Errorf("device_id = %q, want pod-1", resp.DeviceID)
	}
	if resp.Revision == 0 {
		t.Error("revision = 0, want >= 1")
	}
	if resp.Snapshot == nil || resp.Snapshot.Identity.Vendor != "sensibo" {
		t.Errorf("snapshot = %+v", resp.Snapshot)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ===== Command Endpoint =====

func TestCommand_Success(t *testing.T) {
	srv, exec, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"feature": "target_temperature", "value": 22}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pod-1/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	cmds := exec.executed()
	if len(cmds) != 1 {
		t.Fatalf("executed %d commands, want 1", len(cmds))
	}
	if cmds[0].DeviceID != "pod-1" {
		t.Errorf("device_id = %q, want pod-1", cmds[0].DeviceID)
	}
	if cmds[0].Feature != capability.FeatureTargetTemperature {
		t.Errorf("feature = %q", cmds[0].Feature)
	}

	var ack hub.Ack
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Revision != 2 {
		t.Errorf("revision = %d, want 2", ack.Revision)
	}
}

func TestCommand_InvalidJSON(t *testing.T) {
	srv, exec, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pod-1/commands", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(exec.executed()) != 0 {
		t.Error("dispatcher should not run for malformed body")
	}
}

func TestCommand_MissingFeature(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"value": 22}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pod-1/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCommand_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", hub.ErrDeviceNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"unavailable", hub.ErrDeviceUnavailable, http.StatusConflict, ErrCodeConflict},
		{"invalid value", hub.ErrInvalidValue, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"wrong mode", hub.ErrUnsupportedInCurrentMode, http.StatusUnprocessableEntity, ErrCodeValidation},
		{"shutting down", hub.ErrShuttingDown, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"unknown vendor", hub.ErrUnknownVendor, http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, exec, _ := testServer(t)
			exec.err = tt.err
			router := srv.buildRouter()

			body := `{"feature": "power", "value": true}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pod-1/commands", strings.NewReader(body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var apiErr Error
			if err := json.Unmarshal(w.Body.Bytes(), &apiErr); err != nil {
				t.Fatalf("unmarshal error body: %v", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}
}

// ===== Refresh Endpoint =====

func TestRefresh_Scheduled(t *testing.T) {
	srv, _, refresher := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pod-1/refresh", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	if len(refresher.ids) != 1 || refresher.ids[0] != "pod-1" {
		t.Errorf("refreshed = %v, want [pod-1]", refresher.ids)
	}
}

func TestRefresh_NotFound(t *testing.T) {
	srv, _, refresher := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/nonexistent/refresh", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	refresher.mu.Lock()
	defer refresher.mu.Unlock()
	if len(refresher.ids) != 0 {
		t.Errorf("refresh scheduled for unknown device: %v", refresher.ids)
	}
}

func TestRefresh_Unconfigured(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.refresher = nil
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/pod-1/refresh", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ===== Dependency Validation =====

func TestNew_RequiredDeps(t *testing.T) {
	broker := hub.NewBroker()
	defer broker.Close()
	store := hub.NewStore(broker)
	log := testLogger()
	exec := &fakeExecutor{}

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Store: store, Dispatcher: exec, Broker: broker}},
		{"missing store", Deps{Logger: log, Dispatcher: exec, Broker: broker}},
		{"missing dispatcher", Deps{Logger: log, Store: store, Broker: broker}},
		{"missing broker", Deps{Logger: log, Store: store, Dispatcher: exec}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

// ===== WebSocket Hub =====

func TestHub_BroadcastToSubscribed(t *testing.T) {
	log := testLogger()
	h := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &WSClient{
		hub:           h,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"state_changed": {}},
	}
	h.Register(client)

	h.Broadcast("state_changed", wsEventPayload{DeviceID: "pod-1", Revision: 3})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != "state_changed" {
			t.Errorf("event_type = %q, want state_changed", wsMsg.EventType)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_WildcardSubscription(t *testing.T) {
	log := testLogger()
	h := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &WSClient{
		hub:           h,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{WSChannelAll: {}},
	}
	h.Register(client)

	h.Broadcast("availability_changed", wsEventPayload{DeviceID: "pod-1"})

	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Error("wildcard subscriber did not receive the message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	log := testLogger()
	h := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &WSClient{
		hub:           h,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"device_removed": {}},
	}
	h.Register(client)

	h.Broadcast("state_changed", wsEventPayload{DeviceID: "pod-1"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

// ===== WebSocket Integration =====

// testServerWithRealListener starts a server listening on the given port with
// a live broker so WebSocket clients see real device events.
func testServerWithRealListener(t *testing.T, port int) (*Server, *hub.Broker, string) {
	t.Helper()

	broker := hub.NewBroker()
	t.Cleanup(broker.Close)
	store := hub.NewStore(broker)

	snap := climateSnapshot("pod-1", true)
	if err := store.Register(context.Background(), snap.Identity, snap); err != nil {
		t.Fatalf("Register: %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: port,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     testLogger(),
		Store:      store,
		Dispatcher: &fakeExecutor{},
		Broker:     broker,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Wait for server to be ready
	time.Sleep(100 * time.Millisecond)

	return srv, broker, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestWebSocket_SubscribeAndReceiveEvent(t *testing.T) {
	_, broker, addr := testServerWithRealListener(t, 19090)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"state_changed"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse {
		t.Fatalf("response type = %s, want %s", resp.Type, WSTypeResponse)
	}

	broker.Publish(hub.ChangeEvent{
		Type:      hub.EventStateChanged,
		DeviceID:  "pod-1",
		Revision:  4,
		Snapshot:  climateSnapshot("pod-1", true),
		Changed:   []capability.Feature{capability.FeatureTargetTemperature},
		Timestamp: time.Now().UTC(),
	})

	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if resp.Type != WSTypeEvent {
		t.Errorf("type = %s, want %s", resp.Type, WSTypeEvent)
	}
	if resp.EventType != "state_changed" {
		t.Errorf("event_type = %s, want state_changed", resp.EventType)
	}

	payload, _ := json.Marshal(resp.Payload) //nolint:errcheck // re-marshal for decode
	var ev wsEventPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if ev.DeviceID != "pod-1" || ev.Revision != 4 {
		t.Errorf("payload = %+v", ev)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, _, addr := testServerWithRealListener(t, 19091)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}

	if resp.Type != WSTypePong {
		t.Errorf("response type = %s, want pong", resp.Type)
	}
	if resp.ID != "ping-1" {
		t.Errorf("response ID = %s, want ping-1", resp.ID)
	}
}
