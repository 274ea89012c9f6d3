package gameserver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/protocol"
	"github.com/cory-johannsen/colony/internal/session"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

// VisitHandler runs the visit exchange between two online players: request,
// accept or reject, actions while paired, and stop.
type VisitHandler struct {
	settlements SettlementStore
	registry    *session.Registry
	pairings    *session.Pairings
}

// NewVisitHandler creates a VisitHandler.
//
// Precondition: settlements, registry and pairings must be non-nil.
func NewVisitHandler(settlements SettlementStore, registry *session.Registry, pairings *session.Pairings) *VisitHandler {
	return &VisitHandler{
		settlements: settlements,
		registry:    registry,
		pairings:    pairings,
	}
}

// Handle processes one VisitPacket from c.
//
// Postcondition: Returns nil, or an error wrapping protocol.ErrProtocol when the payload is malformed.
func (h *VisitHandler) Handle(ctx context.Context, c *session.Client, p protocol.Packet) error {
	var details protocol.VisitDetails
	if err := protocol.DecodePayload(p, 0, &details); err != nil {
		return err
	}

	switch details.StepMode {
	case protocol.VisitRequest:
		h.request(ctx, c, details)
	case protocol.VisitAccept:
		h.accept(ctx, c, p, details)
	case protocol.VisitReject:
		h.reject(ctx, c, p, details)
	case protocol.VisitAction:
		h.action(c, p, details)
	case protocol.VisitStop:
		h.stop(c, p)
	default:
		c.Logger().Debug("ignoring visit step from client", zap.Stringer("step", details.StepMode))
	}
	return nil
}

// Teardown ends c's visit, if any, on disconnect. The former partner is sent a Stop.
//
// Postcondition: Neither c nor its former partner names the other.
func (h *VisitHandler) Teardown(c *session.Client) {
	partner := h.pairings.Unpair(c)
	if partner == nil {
		return
	}
	partner.Logger().Info("visit ended by partner disconnect", zap.String("partner", c.Username()))
	sendPayload(partner, protocol.CmdVisit, protocol.VisitDetails{StepMode: protocol.VisitStop})
}

func (h *VisitHandler) request(ctx context.Context, c *session.Client, details protocol.VisitDetails) {
	settlement, err := h.settlements.SettlementByTile(ctx, details.TargetTile)
	if err != nil {
		if errors.Is(err, postgres.ErrSettlementNotFound) {
			c.Logger().Warn("visit request for empty tile", zap.String("tile", details.TargetTile))
			sendIllegalAction(c)
			return
		}
		c.Logger().Error("resolving visit target", zap.String("tile", details.TargetTile), zap.Error(err))
		h.unavailable(c, details)
		return
	}

	if settlement.Owner == c.Username() {
		h.unavailable(c, details)
		return
	}
	owner, ok := h.registry.Lookup(settlement.Owner)
	if !ok || h.pairings.IsPaired(owner) {
		h.unavailable(c, details)
		return
	}

	details.VisitorName = c.Username()
	sendPayload(owner, protocol.CmdVisit, details)
}

func (h *VisitHandler) accept(ctx context.Context, c *session.Client, p protocol.Packet, details protocol.VisitDetails) {
	visitor, ok := h.ownerOf(ctx, c, details.FromTile)
	if !ok {
		return
	}

	if err := h.pairings.Pair(c, visitor); err != nil {
		if errors.Is(err, session.ErrClientGone) {
			c.Logger().Debug("visitor left before accept", zap.String("visitor", visitor.Username()))
			return
		}
		c.Logger().Info("visit accept refused", zap.String("visitor", visitor.Username()), zap.Error(err))
		h.unavailable(c, details)
		return
	}

	c.Logger().Info("visit started", zap.String("visitor", visitor.Username()))
	visitor.Send(p)
}

func (h *VisitHandler) reject(ctx context.Context, c *session.Client, p protocol.Packet, details protocol.VisitDetails) {
	visitor, ok := h.ownerOf(ctx, c, details.FromTile)
	if !ok {
		return
	}
	visitor.Send(p)
}

func (h *VisitHandler) action(c *session.Client, p protocol.Packet, details protocol.VisitDetails) {
	partner := h.pairings.PartnerOf(c)
	if partner != nil {
		partner.Send(p)
		if !partner.Disconnected() {
			return
		}
		// Teardown already sent the Stop if it unpaired first.
		if h.pairings.Unpair(c) == nil {
			return
		}
		c.Logger().Info("visit ended, partner unreachable", zap.String("partner", partner.Username()))
	}
	details.StepMode = protocol.VisitStop
	sendPayload(c, protocol.CmdVisit, details)
}

func (h *VisitHandler) stop(c *session.Client, p protocol.Packet) {
	partner := h.pairings.Unpair(c)
	c.Send(p)
	if partner != nil {
		partner.Send(p)
		c.Logger().Info("visit stopped", zap.String("partner", partner.Username()))
	}
}

// ownerOf resolves the live client owning the settlement at tile.
func (h *VisitHandler) ownerOf(ctx context.Context, c *session.Client, tile string) (*session.Client, bool) {
	settlement, err := h.settlements.SettlementByTile(ctx, tile)
	if err != nil {
		if !errors.Is(err, postgres.ErrSettlementNotFound) {
			c.Logger().Error("resolving visit origin", zap.String("tile", tile), zap.Error(err))
		}
		return nil, false
	}
	owner, ok := h.registry.Lookup(settlement.Owner)
	if !ok {
		return nil, false
	}
	return owner, true
}

func (h *VisitHandler) unavailable(c *session.Client, details protocol.VisitDetails) {
	details.StepMode = protocol.VisitUnavailable
	sendPayload(c, protocol.CmdVisit, details)
}

// sendPayload wraps payload in a packet and sends it to c.
func sendPayload(c *session.Client, command string, payload any) {
	p, err := protocol.NewPacket(command, payload)
	if err != nil {
		c.Logger().Error("building packet", zap.String("command", command), zap.Error(err))
		return
	}
	c.Send(p)
}

func sendIllegalAction(c *session.Client) {
	c.Send(protocol.Packet{Command: protocol.CmdIllegalAction})
}
