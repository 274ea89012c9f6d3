package gameserver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/colony/internal/protocol"
	"github.com/cory-johannsen/colony/internal/session"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

// RaidHandler answers raid requests with the target's saved map when its
// owner is offline.
type RaidHandler struct {
	world    WorldStore
	registry *session.Registry
}

// NewRaidHandler creates a RaidHandler.
//
// Precondition: world and registry must be non-nil.
func NewRaidHandler(world WorldStore, registry *session.Registry) *RaidHandler {
	return &RaidHandler{world: world, registry: registry}
}

// Handle processes one RaidPacket from c. A Deny from the client is ignored.
//
// Postcondition: Returns nil, or an error wrapping protocol.ErrProtocol when the payload is malformed.
func (h *RaidHandler) Handle(ctx context.Context, c *session.Client, p protocol.Packet) error {
	var details protocol.RaidDetails
	if err := protocol.DecodePayload(p, 0, &details); err != nil {
		return err
	}
	if details.StepMode != protocol.RaidRequest {
		return nil
	}

	log := c.Logger().With(zap.String("tile", details.TargetTile))

	mapData, err := h.world.MapByTile(ctx, details.TargetTile)
	if err != nil {
		if !errors.Is(err, postgres.ErrMapNotFound) {
			log.Error("loading raid map", zap.Error(err))
		}
		h.deny(c, details, "no map")
		return nil
	}

	settlement, err := h.world.SettlementByTile(ctx, details.TargetTile)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrSettlementNotFound):
			if _, siteErr := h.world.SiteByTile(ctx, details.TargetTile); siteErr == nil {
				h.deny(c, details, "site")
			} else {
				h.deny(c, details, "no settlement")
			}
		default:
			log.Error("resolving raid target", zap.Error(err))
			h.deny(c, details, "lookup failed")
		}
		return nil
	}

	if h.registry.IsConnected(settlement.Owner) {
		h.deny(c, details, "owner online")
		return nil
	}

	details.StepMode = protocol.RaidRequest
	details.MapDetails = mapData
	log.Info("raid granted", zap.String("owner", settlement.Owner))
	sendPayload(c, protocol.CmdRaid, details)
	return nil
}

func (h *RaidHandler) deny(c *session.Client, details protocol.RaidDetails, reason string) {
	c.Logger().Debug("raid denied", zap.String("tile", details.TargetTile), zap.String("reason", reason))
	details.StepMode = protocol.RaidDeny
	details.MapDetails = nil
	sendPayload(c, protocol.CmdRaid, details)
}
