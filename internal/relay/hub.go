// Package relay fans realtime chat events out to every attached connection
// and keeps the presence registry in step with connection lifecycles.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"private-chat/backend/internal/metrics"
	"private-chat/backend/internal/models"
	"private-chat/backend/internal/presence"
	"private-chat/backend/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var ErrHubClosed = errors.New("relay hub is not running")

// Config tunes per-connection resources
type Config struct {
	// SendBuffer is the outbound queue size per connection
	SendBuffer int
	// EventRate and EventBurst limit inbound events per connection
	EventRate  rate.Limit
	EventBurst int
}

// DefaultConfig returns the default relay configuration
func DefaultConfig() Config {
	return Config{
		SendBuffer: 256,
		EventRate:  20,
		EventBurst: 40,
	}
}

// inbound carries events and detaches on one channel so a connection's
// last events are handled before its departure.
type inbound struct {
	conn   *Connection
	env    Envelope
	detach bool
}

// Hub is the single dispatcher of the relay. Every event, attach and detach
// is handled on the Run goroutine, which gives all connections one total
// order of broadcasts.
type Hub struct {
	config   Config
	registry *presence.Registry
	log      *logger.Logger

	conns   map[string]*Connection
	active  atomic.Int64
	attach  chan *Connection
	inbound chan inbound
	done    chan struct{}
}

// NewHub creates a hub that records presence in registry
func NewHub(registry *presence.Registry, config Config, log *logger.Logger) *Hub {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConfig().SendBuffer
	}
	if config.EventRate > 0 && config.EventBurst < 1 {
		config.EventBurst = 1
	}
	return &Hub{
		config:   config,
		registry: registry,
		log:      log,
		conns:    make(map[string]*Connection),
		attach:   make(chan *Connection),
		inbound:  make(chan inbound, 64),
		done:     make(chan struct{}),
	}
}

// Registry returns the presence registry the hub maintains
func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

// ActiveConnections returns the number of attached connections
func (h *Hub) ActiveConnections() int {
	return int(h.active.Load())
}

// NewConnection creates an unattached connection for the given session.
func (h *Hub) NewConnection(session *models.Participant) *Connection {
	var limiter *rate.Limiter
	if h.config.EventRate > 0 {
		limiter = rate.NewLimiter(h.config.EventRate, h.config.EventBurst)
	}
	return &Connection{
		ID:      uuid.NewString(),
		session: session,
		send:    make(chan []byte, h.config.SendBuffer),
		limiter: limiter,
	}
}

// Run processes hub traffic until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.attach:
			h.conns[c.ID] = c
			h.active.Add(1)
			metrics.ConnectionsActive.Inc()
			h.log.Info("Connection attached", "conn_id", c.ID)

		case in := <-h.inbound:
			if in.detach {
				h.drop(in.conn, "transport closed")
				continue
			}
			h.handle(in.conn, in.env)
		}
	}
}

// Attach hands a new connection to the hub
func (h *Hub) Attach(c *Connection) error {
	select {
	case h.attach <- c:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Detach reports that the transport under c is gone. Safe to call more
// than once.
func (h *Hub) Detach(c *Connection) {
	select {
	case h.inbound <- inbound{conn: c, detach: true}:
	case <-h.done:
	}
}

// Dispatch queues an inbound event from c
func (h *Hub) Dispatch(c *Connection, env Envelope) {
	select {
	case h.inbound <- inbound{conn: c, env: env}:
	case <-h.done:
	}
}

func (h *Hub) handle(c *Connection, env Envelope) {
	if h.conns[c.ID] != c {
		// event raced with the connection being dropped
		return
	}
	metrics.RelayEvents.WithLabelValues(eventLabel(env.Type)).Inc()

	if c.limiter != nil && !c.limiter.Allow() {
		h.replyError(c, "rate limit exceeded")
		return
	}

	switch env.Type {
	case EventJoin:
		h.handleJoin(c, env.Content)
	case EventMessage:
		h.handleMessage(c, env.Content)
	case EventTypingStart:
		h.handleTyping(c, EventUserTyping, env.Content)
	case EventTypingStop:
		h.handleTyping(c, EventUserStoppedTyping, env.Content)
	case EventPing:
		h.reply(c, EventPong, nil)
	default:
		h.log.Warn("Unknown event type", "conn_id", c.ID, "type", env.Type)
		h.replyError(c, "unknown event type")
	}
}

func (h *Hub) handleJoin(c *Connection, content json.RawMessage) {
	p, err := decodeJoin(content)
	if err != nil {
		h.log.Warn("Rejected join", "conn_id", c.ID, "error", err.Error())
		h.replyError(c, "join requires participantId and displayName")
		return
	}
	if c.session != nil && c.session.ID != p.ID {
		h.log.Warn("Join does not match session", "conn_id", c.ID, "session", c.session.ID, "participant", p.ID)
		h.replyError(c, "participant does not match session")
		return
	}

	wasJoined := c.state == StateJoined
	if !c.join(p) {
		return
	}
	h.registry.Register(c.ID, p)
	if !wasJoined {
		metrics.ParticipantsOnline.Inc()
	}
	h.log.WithConnection(c.ID).Info("Participant joined", "participant", p.ID)

	h.broadcast(EventJoined, JoinedContent{Participant: p, ConnectionID: c.ID}, nil)
	if c.state == StateJoined {
		h.reply(c, EventOnlineList, h.registry.List())
	}
}

func (h *Hub) handleMessage(c *Connection, content json.RawMessage) {
	if c.state != StateJoined {
		h.replyError(c, ErrNotJoined.Error())
		return
	}
	if err := checkMessage(content); err != nil {
		h.log.Warn("Rejected message", "conn_id", c.ID, "error", err.Error())
		h.replyError(c, "message requires id and participantId")
		return
	}
	// forwarded to everyone, sender included
	h.broadcastRaw(EventReceived, content, nil)
}

func (h *Hub) handleTyping(c *Connection, outType string, content json.RawMessage) {
	if c.state != StateJoined {
		h.replyError(c, ErrNotJoined.Error())
		return
	}
	if err := checkTyping(content); err != nil {
		h.replyError(c, "typing event requires participantId")
		return
	}
	h.broadcastRaw(outType, content, c)
}

// drop closes c, unregisters its presence and announces the departure
// if it had joined.
func (h *Hub) drop(c *Connection, reason string) {
	if h.conns[c.ID] != c {
		return
	}
	delete(h.conns, c.ID)
	wasJoined, ok := c.close()
	if !ok {
		return
	}
	h.active.Add(-1)
	metrics.ConnectionsActive.Dec()
	h.log.WithConnection(c.ID).Info("Connection detached", "reason", reason)

	if !wasJoined {
		return
	}
	metrics.ParticipantsOnline.Dec()
	p, registered := h.registry.Unregister(c.ID)
	if !registered {
		return
	}
	h.broadcast(EventLeft, LeftContent{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		ConnectionID:  c.ID,
	}, nil)
}

func (h *Hub) shutdown() {
	for id, c := range h.conns {
		delete(h.conns, id)
		if wasJoined, ok := c.close(); ok {
			h.registry.Unregister(id)
			h.active.Add(-1)
			metrics.ConnectionsActive.Dec()
			if wasJoined {
				metrics.ParticipantsOnline.Dec()
			}
		}
	}
	h.log.Info("Relay hub stopped")
}

func (h *Hub) broadcast(eventType string, content any, except *Connection) {
	frame, err := encode(eventType, content)
	if err != nil {
		h.log.LogError(err, "Failed to encode event", "type", eventType)
		return
	}
	h.fanOut(frame, except)
}

func (h *Hub) broadcastRaw(eventType string, content json.RawMessage, except *Connection) {
	frame, err := json.Marshal(Envelope{Type: eventType, Content: content})
	if err != nil {
		h.log.LogError(err, "Failed to encode event", "type", eventType)
		return
	}
	h.fanOut(frame, except)
}

// fanOut queues frame on every connection except one. A connection whose
// queue is full is dropped after the loop; the others are unaffected.
func (h *Hub) fanOut(frame []byte, except *Connection) {
	var failed []*Connection
	for _, c := range h.conns {
		if c == except {
			continue
		}
		if !h.enqueue(c, frame) {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.drop(c, "send buffer full")
	}
}

func (h *Hub) enqueue(c *Connection, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		metrics.DeliveryFailures.Inc()
		h.log.Warn("Delivery failed, outbound queue full", "conn_id", c.ID)
		return false
	}
}

func (h *Hub) reply(c *Connection, eventType string, content any) {
	frame, err := encode(eventType, content)
	if err != nil {
		h.log.LogError(err, "Failed to encode reply", "type", eventType)
		return
	}
	if !h.enqueue(c, frame) {
		h.drop(c, "send buffer full")
	}
}

func (h *Hub) replyError(c *Connection, message string) {
	h.reply(c, EventError, ErrorContent{Message: message})
}

func eventLabel(t string) string {
	switch t {
	case EventJoin, EventMessage, EventTypingStart, EventTypingStop, EventPing:
		return t
	default:
		return "unknown"
	}
}
