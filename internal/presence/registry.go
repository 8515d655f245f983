// Package presence tracks which participants are attached to the relay.
package presence

import (
	"sync"

	"private-chat/backend/internal/models"
)

// Registry maps connection identifiers to the participant that joined on
// them. At most one entry exists per connection; it is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]models.Participant
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]models.Participant),
	}
}

// Register inserts or overwrites the entry for connID.
func (r *Registry) Register(connID string, p models.Participant) {
	r.mu.Lock()
	r.entries[connID] = p
	r.mu.Unlock()
}

// Unregister removes the entry for connID and returns what was removed.
// Unknown ids are a no-op.
func (r *Registry) Unregister(connID string) (models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	return p, ok
}

// Lookup returns the participant joined on connID, if any.
func (r *Registry) Lookup(connID string) (models.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.entries[connID]
	return p, ok
}

// List returns a snapshot of every registered participant. Order is unspecified.
func (r *Registry) List() []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Participant, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
