package session

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/protocol"
)

// Registry is the set of logged-in clients, keyed by username.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client // username → client
	logger  *zap.Logger
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Add registers c under its username.
//
// Precondition: c must have a profile with a non-empty username.
// Postcondition: c is registered. Returns the client it displaced for the same
// username, or nil. The caller decides what to do with the displaced client.
func (r *Registry) Add(c *Client) *Client {
	username := c.Username()

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.clients[username]
	if prev == c {
		prev = nil
	}
	r.clients[username] = c
	return prev
}

// Remove unregisters c. A newer client registered under the same username is left alone.
//
// Postcondition: Returns true if c was registered and has been removed.
func (r *Registry) Remove(c *Client) bool {
	username := c.Username()

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[username]; ok && cur == c {
		delete(r.clients, username)
		return true
	}
	return false
}

// Lookup returns the live client for username. Clients flagged as disconnected
// are treated as absent.
//
// Postcondition: Returns (client, true) if found and live, or (nil, false) otherwise.
func (r *Registry) Lookup(username string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[username]
	if !ok || c.Disconnected() {
		return nil, false
	}
	return c, true
}

// IsConnected reports whether username has a live client.
func (r *Registry) IsConnected(username string) bool {
	_, ok := r.Lookup(username)
	return ok
}

// Snapshot returns the registered clients at this instant.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Usernames returns the sorted usernames of registered clients.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends p to every registered client. A failing client is flagged
// and skipped; the rest still receive the packet.
//
// Postcondition: Returns the number of clients whose send failed.
func (r *Registry) Broadcast(p protocol.Packet) int {
	line, err := protocol.Encode(p)
	if err != nil {
		r.logger.Error("encoding broadcast packet", zap.String("command", p.Command), zap.Error(err))
		return 0
	}

	failed := 0
	for _, c := range r.Snapshot() {
		c.sendLine(line, p.Command)
		if c.Disconnected() {
			failed++
		}
	}
	if failed > 0 {
		r.logger.Debug("broadcast had failures",
			zap.String("command", p.Command),
			zap.Int("failed", failed),
		)
	}
	return failed
}

// CloseAll closes every registered client's transport.
func (r *Registry) CloseAll() {
	for _, c := range r.Snapshot() {
		c.Close()
	}
	r.logger.Info("all clients closed")
}
