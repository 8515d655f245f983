package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"private-chat/backend/internal/models"
	apperrors "private-chat/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 64 * 1024
)

// Authenticator resolves a session token into the participant it belongs to
type Authenticator interface {
	CurrentParticipant(ctx context.Context, token string) (*models.Participant, error)
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	c    *Connection
}

// ServeWs upgrades authenticated requests to websocket connections attached
// to hub. An empty origins list accepts every origin.
func ServeWs(hub *Hub, auth Authenticator, origins []string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin:      originChecker(origins),
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			c.Error(apperrors.NewUnauthorizedError("AUTH_REQUIRED", "session token is required"))
			c.Abort()
			return
		}
		participant, err := auth.CurrentParticipant(c.Request.Context(), token)
		if err != nil {
			hub.log.Warn("Rejected websocket session", "error", err.Error())
			c.Error(apperrors.NewUnauthorizedError("INVALID_TOKEN", "invalid or expired session"))
			c.Abort()
			return
		}

		// attach first so the connection sees every broadcast from the
		// moment the handshake completes
		conn := hub.NewConnection(participant)
		if err := hub.Attach(conn); err != nil {
			c.Error(apperrors.NewServiceUnavailableError("RELAY_UNAVAILABLE", "realtime relay is not running"))
			c.Abort()
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.LogError(err, "Error upgrading connection")
			hub.Detach(conn)
			return
		}

		client := &wsClient{hub: hub, conn: ws, c: conn}
		go client.writePump()
		go client.readPump()
	}
}

func sessionToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// readPump forwards frames to the hub. Any read error, including an abrupt
// network drop, ends in Detach.
func (w *wsClient) readPump() {
	defer func() {
		w.hub.Detach(w.c)
		w.conn.Close()
	}()

	w.conn.SetReadLimit(maxMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				w.hub.log.Warn("Unexpected websocket close", "conn_id", w.c.ID, "error", err.Error())
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			w.hub.log.Warn("Malformed frame", "conn_id", w.c.ID)
			env = Envelope{Type: "malformed"}
		}
		w.hub.Dispatch(w.c, env)
	}
}

func (w *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	out := w.c.Outbound()
	for {
		select {
		case frame, ok := <-out:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			// queued frames go out as separate websocket messages
			n := len(out)
			for i := 0; i < n; i++ {
				extra, ok := <-out
				if !ok {
					w.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := w.conn.WriteMessage(websocket.TextMessage, extra); err != nil {
					return
				}
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
