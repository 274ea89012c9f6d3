package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/network"
	"github.com/cory-johannsen/colony/internal/observability"
	"github.com/cory-johannsen/colony/internal/protocol"
	"github.com/cory-johannsen/colony/internal/session"
)

// errNotLoggedIn is returned when a client's first packet is not a LoginPacket.
var errNotLoggedIn = errors.New("first packet must be a login")

// Dispatcher implements network.SessionHandler. It runs the login handshake
// and then routes each inbound packet to its handler until the client leaves.
type Dispatcher struct {
	gate     *AuthGate
	visits   *VisitHandler
	raids    *RaidHandler
	registry *session.Registry
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: all arguments must be non-nil.
// Postcondition: Returns a Dispatcher ready to be passed to network.NewAcceptor.
func NewDispatcher(gate *AuthGate, visits *VisitHandler, raids *RaidHandler, registry *session.Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		gate:     gate,
		visits:   visits,
		raids:    raids,
		registry: registry,
		logger:   logger,
	}
}

// HandleSession implements network.SessionHandler.
//
// Postcondition: On return the client is flagged disconnected, its visit is
// torn down, it is no longer registered, and the remaining players have been
// sent a recount.
func (d *Dispatcher) HandleSession(ctx context.Context, conn *network.Conn) error {
	start := time.Now()
	logger := observability.SessionLogger(d.logger, conn.ID(), conn.RemoteAddr().String())
	client := session.NewClient(conn.ID(), conn, logger)

	// Closing the connection unblocks ReadLine when the server shuts down.
	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	if err := d.login(ctx, conn, client); err != nil {
		client.Close()
		return err
	}
	defer d.cleanup(client, start)

	return d.serve(ctx, conn, client)
}

// login reads the first packet and runs it through the AuthGate.
func (d *Dispatcher) login(ctx context.Context, conn *network.Conn, client *session.Client) error {
	line, err := conn.ReadLine()
	if err != nil {
		return fmt.Errorf("reading login: %w", err)
	}
	p, err := protocol.Decode(line)
	if err != nil {
		client.Logger().Warn("malformed login frame", zap.Error(err))
		return err
	}
	if p.Command != protocol.CmdLogin {
		client.Logger().Warn("packet before login", zap.String(observability.FieldCommand, p.Command))
		return errNotLoggedIn
	}

	var details protocol.LoginDetails
	if err := protocol.DecodePayload(p, 0, &details); err != nil {
		client.Logger().Warn("malformed login payload", zap.Error(err))
		return err
	}
	return d.gate.Admit(ctx, client, details)
}

// serve routes packets from a logged-in client until the connection fails.
func (d *Dispatcher) serve(ctx context.Context, conn *network.Conn, client *session.Client) error {
	for {
		if client.Disconnected() {
			return nil
		}

		line, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || client.Disconnected() {
				return nil
			}
			return fmt.Errorf("reading packet: %w", err)
		}

		p, err := protocol.Decode(line)
		if err != nil {
			client.Logger().Warn("malformed frame, closing", zap.Error(err))
			return err
		}
		if err := d.dispatch(ctx, client, p); err != nil {
			client.Logger().Warn("bad packet, closing",
				zap.String(observability.FieldCommand, p.Command),
				zap.Error(err),
			)
			return err
		}
	}
}

// dispatch routes one packet to the matching handler.
func (d *Dispatcher) dispatch(ctx context.Context, client *session.Client, p protocol.Packet) error {
	switch p.Command {
	case protocol.CmdVisit:
		return d.visits.Handle(ctx, client, p)
	case protocol.CmdRaid:
		return d.raids.Handle(ctx, client, p)
	case protocol.CmdLogin:
		client.Logger().Warn("ignoring repeated login")
		return nil
	default:
		client.Logger().Debug("ignoring unhandled command", zap.String(observability.FieldCommand, p.Command))
		return nil
	}
}

// cleanup releases everything a logged-in client held, in order: disconnect
// flag, visit pairing, registry entry, player recount.
func (d *Dispatcher) cleanup(client *session.Client, start time.Time) {
	client.Close()
	d.visits.Teardown(client)
	if d.registry.Remove(client) {
		SendPlayerRecount(d.registry)
	}
	client.Logger().Info("player disconnected", zap.Duration("session_duration", time.Since(start)))
}
