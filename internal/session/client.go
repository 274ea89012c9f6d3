// Package session tracks connected clients, their identity after login, and
// the visit pairing between them.
package session

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/protocol"
)

// Transport is the outbound side of a client connection.
// network.Conn satisfies it.
type Transport interface {
	WriteLine(line string) error
	Close() error
	RemoteIP() string
}

// Profile is the identity and roster of a logged-in client, copied from the
// persisted user record during the handshake.
type Profile struct {
	UID          string
	Username     string
	PasswordHash string
	FactionName  string
	HasFaction   bool
	IsAdmin      bool
	IsBanned     bool
	Allies       []string
	Enemies      []string
	Mods         []string
}

// Client is one connected game client.
// Send and Close are safe for concurrent use; the pairing field is owned by Pairings.
type Client struct {
	sessionID string
	transport Transport
	logger    *zap.Logger

	mu      sync.RWMutex
	profile Profile

	disconnected atomic.Bool

	// partner is guarded by Pairings.mu.
	partner *Client
}

// NewClient wraps a transport for a freshly accepted connection.
//
// Precondition: transport and logger must be non-nil.
// Postcondition: Returns an anonymous Client; SetProfile is called once the handshake succeeds.
func NewClient(sessionID string, transport Transport, logger *zap.Logger) *Client {
	return &Client{
		sessionID: sessionID,
		transport: transport,
		logger:    logger,
	}
}

// SessionID returns the per-connection id assigned at accept time.
func (c *Client) SessionID() string {
	return c.sessionID
}

// RemoteIP returns the client's address without the port.
func (c *Client) RemoteIP() string {
	return c.transport.RemoteIP()
}

// SetProfile records the logged-in identity.
func (c *Client) SetProfile(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
	c.logger = c.logger.With(zap.String("username", p.Username))
}

// Profile returns a copy of the client's identity.
func (c *Client) Profile() Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.profile
	p.Allies = append([]string(nil), p.Allies...)
	p.Enemies = append([]string(nil), p.Enemies...)
	p.Mods = append([]string(nil), p.Mods...)
	return p
}

// Username returns the logged-in username, or "" before login.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile.Username
}

// Logger returns the client-scoped logger.
func (c *Client) Logger() *zap.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Send encodes p and writes it to the client. Failures are not returned: they
// mark the client disconnected so that loops over many clients keep going.
//
// Postcondition: The packet was written whole, or Disconnected() reports true
// and the transport is closed.
func (c *Client) Send(p protocol.Packet) {
	line, err := protocol.Encode(p)
	if err != nil {
		c.Logger().Error("encoding outbound packet",
			zap.String("command", p.Command),
			zap.Error(err),
		)
		return
	}
	c.sendLine(line, p.Command)
}

func (c *Client) sendLine(line, command string) {
	if c.disconnected.Load() {
		return
	}
	if err := c.transport.WriteLine(line); err != nil {
		if !c.disconnected.Swap(true) {
			c.Logger().Warn("send failed, closing client",
				zap.String("command", command),
				zap.Error(err),
			)
			// A failed write may leave a partial frame; closing unblocks the
			// reader so the session's cleanup runs.
			_ = c.transport.Close()
		}
	}
}

// MarkDisconnected flags the client as gone without closing the transport.
func (c *Client) MarkDisconnected() {
	c.disconnected.Store(true)
}

// Disconnected reports whether the client has been flagged as gone.
func (c *Client) Disconnected() bool {
	return c.disconnected.Load()
}

// Close flags the client and closes its transport, unblocking its reader.
// Safe to call more than once.
func (c *Client) Close() {
	c.disconnected.Store(true)
	_ = c.transport.Close()
}
