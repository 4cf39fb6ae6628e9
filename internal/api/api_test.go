package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devcollab/notifyd/internal/auth"
	"github.com/devcollab/notifyd/internal/dispatcher"
	"github.com/devcollab/notifyd/internal/notification"
	"github.com/devcollab/notifyd/internal/notifier"
	"github.com/devcollab/notifyd/internal/registry"
	"github.com/devcollab/notifyd/internal/storage"
)

type envelope struct {
	Success   bool            `json:"success"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"error"`
	Meta json.RawMessage `json:"meta"`
}

func setupTestAPI(t *testing.T, authConfig auth.Config, notifierConfig notifier.Config) (*API, *notifier.Notifier) {
	t.Helper()

	reg := registry.New()
	d := dispatcher.New(dispatcher.DefaultConfig(), storage.NewMemoryStore(), reg)
	n := notifier.NewNotifier(notifierConfig, reg, d)
	t.Cleanup(func() { _ = n.Shutdown(context.Background()) })

	return NewAPI(Config{}, d, n, auth.New(authConfig)), n
}

func call(t *testing.T, a *API, method, path string, body any, headers map[string]string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.App().Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp.StatusCode, env
}

func sendTo(t *testing.T, a *API, recipient string) notification.Notification {
	t.Helper()
	status, env := call(t, a, http.MethodPost, "/notifications", map[string]any{
		"recipientId": recipient,
		"subject":     notification.SubjectApplicationAccepted,
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	var n notification.Notification
	require.NoError(t, json.Unmarshal(env.Data, &n))
	return n
}

func TestAPIDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, ":8080", config.Addr)

	a, _ := setupTestAPI(t, auth.Config{}, notifier.DefaultConfig())
	assert.Equal(t, config.Addr, a.config.Addr)
	assert.Equal(t, config.ReadTimeout, a.config.ReadTimeout)
}

func TestRegisterRoutes(t *testing.T) {
	a, _ := setupTestAPI(t, auth.Config{}, notifier.DefaultConfig())

	routes := map[string]bool{}
	for _, route := range a.App().GetRoutes() {
		routes[route.Method+" "+route.Path] = true
	}

	for _, want := range []string{
		"GET /healthz",
		"GET /readyz",
		"GET /metrics",
		"GET /ws",
		"POST /notifications",
		"GET /notifications/unread",
		"GET /notifications/unread/count",
		"PATCH /notifications/read-all",
		"PATCH /notifications/:id/read",
		"GET /connections/:userId",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestSendListAndAcknowledge(t *testing.T) {
	a, _ := setupTestAPI(t, auth.Config{}, notifier.DefaultConfig())

	first := sendTo(t, a, "bob")
	second := sendTo(t, a, "bob")

	status, env := call(t, a, http.MethodGet, "/notifications/unread?userId=bob", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, env.RequestID)
	var list struct {
		Notifications []notification.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Notifications, 2)
	assert.Equal(t, second.ID, list.Notifications[0].ID)

	status, _ = call(t, a, http.MethodPatch, "/notifications/"+first.ID+"/read", nil, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, a, http.MethodGet, "/notifications/unread/count?userId=bob", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"userId":"bob","count":1}`, string(env.Data))

	status, env = call(t, a, http.MethodPatch, "/notifications/read-all", map[string]string{"userId": "bob"}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"userId":"bob","updated":1}`, string(env.Data))
}

func TestErrorsUseEnvelope(t *testing.T) {
	a, _ := setupTestAPI(t, auth.Config{}, notifier.DefaultConfig())

	status, env := call(t, a, http.MethodPost, "/notifications", map[string]any{"subject": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation", env.Error.Type)

	status, env = call(t, a, http.MethodPatch, "/notifications/unknown/read", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "notification_not_found", env.Error.Code)

	status, env = call(t, a, http.MethodGet, "/notifications/unread", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "missing_user_id", env.Error.Code)

	status, env = call(t, a, http.MethodGet, "/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "route_not_found", env.Error.Code)

	status, _ = call(t, a, http.MethodGet, "/ws?userId=bob", nil, nil)
	assert.Equal(t, http.StatusUpgradeRequired, status)
}

func TestAuthAndProducerToken(t *testing.T) {
	a, _ := setupTestAPI(t, auth.Config{Enabled: true, JWTSecret: "s", ProducerToken: "p"}, notifier.DefaultConfig())
	producer := map[string]string{ProducerTokenHeader: "p"}

	status, _ := call(t, a, http.MethodPost, "/notifications", map[string]any{"recipientId": "bob", "subject": "x"}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, a, http.MethodPost, "/notifications", map[string]any{"recipientId": "bob", "subject": "x"}, producer)
	require.Equal(t, http.StatusCreated, status)

	token, err := auth.GenerateToken("s", "", "bob", time.Hour)
	require.NoError(t, err)

	status, _ = call(t, a, http.MethodGet, "/notifications/unread/count", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := call(t, a, http.MethodGet, "/notifications/unread/count?token="+token, nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"userId":"bob","count":1}`, string(env.Data))

	status, env = call(t, a, http.MethodGet, "/connections/bob", nil, producer)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"userId":"bob","connected":false}`, string(env.Data))
}

func TestHealthReadyAndMetrics(t *testing.T) {
	a, _ := setupTestAPI(t, auth.Config{}, notifier.DefaultConfig())

	status, _ := call(t, a, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, a, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	a.ready.Store(true)
	status, _ = call(t, a, http.MethodGet, "/readyz", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	resp, err := a.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "notifyd_api_requests_total")
}

func TestMetricsAfterMixedTraffic(t *testing.T) {
	a, _ := setupTestAPI(t, auth.Config{}, notifier.DefaultConfig())
	stored := sendTo(t, a, "bob")

	for i := 0; i < 5; i++ {
		call(t, a, http.MethodPatch, "/notifications/"+stored.ID+"/read", nil, nil)
		call(t, a, http.MethodPost, "/notifications", map[string]any{"recipientId": "bob", "subject": "x"}, nil)
		call(t, a, http.MethodGet, "/notifications/unread?userId=bob", nil, nil)
		call(t, a, http.MethodDelete, "/notifications/"+stored.ID, nil, nil)
	}

	resp, err := a.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	methods := regexp.MustCompile(`notifyd_api_requests_total\{method="([^"]*)"`).FindAllStringSubmatch(string(body), -1)
	require.NotEmpty(t, methods)
	for _, m := range methods {
		assert.Contains(t, []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}, m[1])
	}
}

func listen(t *testing.T, a *API) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = a.App().Listener(ln) }()
	t.Cleanup(func() { _ = a.App().Shutdown() })

	return "ws://" + ln.Addr().String()
}

func TestFiberWebSocketSession(t *testing.T) {
	a, _ := setupTestAPI(t, auth.Config{}, notifier.DefaultConfig())
	stored := sendTo(t, a, "bob")
	base := listen(t, a)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws?userId=bob", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame notifier.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame.Event)

	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, notification.EventUnreadNotifications, frame.Event)
	assert.Contains(t, string(frame.Data), stored.ID)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "mark-read", "id": stored.ID}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, notification.EventNotificationRead, frame.Event)

	live := sendTo(t, a, "bob")
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, notification.EventNewNotification, frame.Event)
	assert.Contains(t, string(frame.Data), live.ID)
}

func TestFiberWebSocketConnectionLimit(t *testing.T) {
	config := notifier.DefaultConfig()
	config.MaxConnections = 1
	a, n := setupTestAPI(t, auth.Config{}, config)
	base := listen(t, a)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws?userId=bob", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame notifier.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 1, n.ActiveConnections())

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws?userId=alice", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
