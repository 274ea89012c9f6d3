// Package gameserver runs the game protocol for each connected client: the
// login handshake, visit pairing between online players and raids on offline
// settlements.
package gameserver

import (
	"context"
	"encoding/json"

	"github.com/cory-johannsen/colony/internal/mods"
	"github.com/cory-johannsen/colony/internal/storage/postgres"
)

// UserStore defines the user persistence operations required by AuthGate.
type UserStore interface {
	UserByUsername(ctx context.Context, username string) (postgres.User, error)
	SaveUser(ctx context.Context, u postgres.User) error
}

// SettlementStore resolves the settlement occupying a world tile.
type SettlementStore interface {
	SettlementByTile(ctx context.Context, tile string) (postgres.Settlement, error)
}

// SiteStore resolves the site occupying a world tile.
type SiteStore interface {
	SiteByTile(ctx context.Context, tile string) (postgres.Site, error)
}

// MapStore returns the saved map of a world tile.
type MapStore interface {
	MapByTile(ctx context.Context, tile string) (json.RawMessage, error)
}

// WorldStore is every tile lookup the raid flow needs.
type WorldStore interface {
	SettlementStore
	SiteStore
	MapStore
}

// ModPolicy supplies the server's loaded mod policy.
type ModPolicy interface {
	Manifest() mods.Manifest
}
