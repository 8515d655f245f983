package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"private-chat/backend/internal/models"
	"private-chat/backend/internal/presence"
	apperrors "private-chat/backend/pkg/errors"
	"private-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenAuth map[string]models.Participant

func (a tokenAuth) CurrentParticipant(_ context.Context, token string) (*models.Participant, error) {
	p, ok := a[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	return &p, nil
}

func newRelayServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(presence.NewRegistry(), DefaultConfig(), logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	auth := tokenAuth{
		"tok-ann": {ID: "u1", DisplayName: "Ann"},
		"tok-bob": {ID: "u2", DisplayName: "Bob"},
	}

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.GET("/ws", ServeWs(hub, auth, nil))

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, eventType string, content any) {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: eventType, Content: raw}))
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestServeWsRejectsMissingOrBadToken(t *testing.T) {
	srv, _ := newRelayServer(t)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	for _, url := range []string{base, base + "?token=nope"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestServeWsEndToEnd(t *testing.T) {
	srv, hub := newRelayServer(t)

	ann := dial(t, srv, "tok-ann")
	bob := dial(t, srv, "tok-bob")

	write(t, ann, EventJoin, models.Participant{ID: "u1", DisplayName: "Ann"})
	assert.Equal(t, EventJoined, read(t, ann).Type)
	assert.Equal(t, EventOnlineList, read(t, ann).Type)
	assert.Equal(t, EventJoined, read(t, bob).Type)

	write(t, bob, EventJoin, models.Participant{ID: "u2", DisplayName: "Bob"})
	assert.Equal(t, EventJoined, read(t, ann).Type)
	assert.Equal(t, EventJoined, read(t, bob).Type)
	assert.Equal(t, EventOnlineList, read(t, bob).Type)

	msg := map[string]any{"id": "m1", "participantId": "u1", "displayName": "Ann", "body": "hi"}
	write(t, ann, EventMessage, msg)

	want, _ := json.Marshal(msg)
	for _, conn := range []*websocket.Conn{ann, bob} {
		env := read(t, conn)
		assert.Equal(t, EventReceived, env.Type)
		assert.JSONEq(t, string(want), string(env.Content))
	}

	// abrupt close is treated like a disconnect
	require.NoError(t, ann.Close())
	env := read(t, bob)
	require.Equal(t, EventLeft, env.Type)
	var left LeftContent
	require.NoError(t, json.Unmarshal(env.Content, &left))
	assert.Equal(t, "u1", left.ParticipantID)

	assert.Eventually(t, func() bool {
		return hub.Registry().Len() == 1 && hub.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServeWsMalformedFrame(t *testing.T) {
	srv, _ := newRelayServer(t)
	conn := dial(t, srv, "tok-ann")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, EventError, read(t, conn).Type)

	write(t, conn, EventJoin, models.Participant{ID: "u2", DisplayName: "Bob"})
	env := read(t, conn)
	assert.Equal(t, EventError, env.Type)
	var content ErrorContent
	require.NoError(t, json.Unmarshal(env.Content, &content))
	assert.Equal(t, "participant does not match session", content.Message)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com/"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
	assert.True(t, originChecker(nil)(req))
}
