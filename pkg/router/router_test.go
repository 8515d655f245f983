package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"private-chat/backend/internal/models"
	"private-chat/backend/pkg/config"
	"private-chat/backend/pkg/di"
	"private-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, schemaPath string) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("APPROVED_EMAILS", "ann@example.com,bob@example.com")
	t.Setenv("JWT_SECRET", "router-secret")
	t.Setenv("RATE_LIMIT", "1000")
	t.Setenv("RATE_LIMIT_BURST", "1000")
	t.Setenv("OPENAPI_SCHEMA_PATH", schemaPath)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	container, err := di.New(ctx, config.Load(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })
	container.Start(ctx)

	r := New(container)
	r.SetupRoutes()
	return r
}

func doJSON(t *testing.T, r *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func signup(t *testing.T, r *Router, email, name string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"email": email, "password": "password1", "displayName": name,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	require.NotEmpty(t, session.Token)
	return session.Token
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRoutes(t *testing.T) {
	r := newTestRouter(t, "")
	token := signup(t, r, "ann@example.com", "Ann")

	t.Run("me", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/v1/auth/me", token, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"displayName":"Ann"`)
	})

	t.Run("messages require auth", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/v1/messages", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("submit and list", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/api/v1/messages", token, gin.H{"id": "m1", "body": "hello"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = doJSON(t, r, http.MethodGet, "/api/v1/messages", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"body":"hello"`)
	})

	t.Run("presence starts empty", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/v1/presence", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"participants":[]}`, w.Body.String())
	})

	t.Run("health", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			w := doJSON(t, r, http.MethodGet, "/health", "", nil)
			return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"store"`)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("metrics", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "chat_messages_admitted_total")
	})

	t.Run("request id echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		r.Engine.ServeHTTP(w, req)
		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	})
}

func TestSchemaValidation(t *testing.T) {
	r := newTestRouter(t, "../../api/openapi.yaml")

	w := doJSON(t, r, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"email": "ann@example.com", "password": "short", "displayName": "Ann",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, w))

	token := signup(t, r, "ann@example.com", "Ann")
	w = doJSON(t, r, http.MethodGet, "/api/v1/messages", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/docs/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/messages", nil)
	req.Header.Set("Origin", "https://chat.example.com")
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://chat.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(corsMiddleware([]string{"https://chat.example.com/"}))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://chat.example.com")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "https://chat.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketRoute(t *testing.T) {
	r := newTestRouter(t, "")
	token := signup(t, r, "bob@example.com", "Bob")

	srv := httptest.NewServer(r.Engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Participant identity comes from the session
	w := doJSON(t, r, http.MethodGet, "/api/v1/auth/me", token, nil)
	var me models.Participant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))

	join := map[string]any{
		"type":    "join",
		"content": me,
	}
	require.NoError(t, conn.WriteJSON(join))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var joined struct {
		Type string `json:"type"`
	}
	require.NoError(t, conn.ReadJSON(&joined))
	assert.Equal(t, "joined", joined.Type)

	assert.Eventually(t, func() bool {
		w := doJSON(t, r, http.MethodGet, "/api/v1/presence", token, nil)
		return strings.Contains(w.Body.String(), `"displayName":"Bob"`)
	}, 2*time.Second, 20*time.Millisecond)
}
