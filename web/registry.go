package web

import (
	"sync"

	"github.com/leliel/slackmirror/store"
)

// Registry maps team ids to their REST clients. It backs the store's
// outbound calls and the root client's token bookkeeping.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers a client for a team, replacing any previous one.
func (r *Registry) Add(teamID string, c *Client) {
	r.mu.Lock()
	r.clients[teamID] = c
	r.mu.Unlock()
}

// Remove drops a team's client.
func (r *Registry) Remove(teamID string) {
	r.mu.Lock()
	delete(r.clients, teamID)
	r.mu.Unlock()
}

// Client returns the registered client, nil on miss.
func (r *Registry) Client(teamID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[teamID]
}

// Web adapts the registry to the store's lookup interface. The nil check
// happens on the concrete type so a miss yields a nil interface, not a
// typed nil.
func (r *Registry) Web(teamID string) store.IWebAPI {
	c := r.Client(teamID)
	if c == nil {
		return nil
	}
	return c
}

// Each calls fn for every registered team under the read lock snapshot.
func (r *Registry) Each(fn func(teamID string, c *Client)) {
	r.mu.RLock()
	snapshot := make(map[string]*Client, len(r.clients))
	for k, v := range r.clients {
		snapshot[k] = v
	}
	r.mu.RUnlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}
