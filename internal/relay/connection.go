package relay

import (
	"private-chat/backend/internal/models"

	"golang.org/x/time/rate"
)

// State is the lifecycle position of a connection
type State int

const (
	StateUnjoined State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unjoined"
	}
}

// Connection is one live transport session attached to a Hub. Its state
// and outbound channel are owned by the hub goroutine; the transport only
// reads from Outbound.
type Connection struct {
	ID string

	// session is the authenticated identity, nil for anonymous connections
	session *models.Participant
	send    chan []byte
	limiter *rate.Limiter

	state       State
	participant models.Participant
}

// Outbound delivers encoded frames for the transport. It is closed when
// the hub drops the connection.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Session returns the identity the connection authenticated with
func (c *Connection) Session() *models.Participant {
	return c.session
}

// join moves an unjoined or joined connection to joined. A re-join
// replaces the participant.
func (c *Connection) join(p models.Participant) bool {
	if c.state == StateClosed {
		return false
	}
	c.state = StateJoined
	c.participant = p
	return true
}

// close moves the connection to closed and reports whether it had joined.
// Returns ok=false if it was already closed.
func (c *Connection) close() (wasJoined bool, ok bool) {
	if c.state == StateClosed {
		return false, false
	}
	wasJoined = c.state == StateJoined
	c.state = StateClosed
	close(c.send)
	return wasJoined, true
}
