package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Settlement is a player's home colony on a world tile.
type Settlement struct {
	Tile  string
	Owner string
}

// Site is a player-owned structure on a world tile that is not a settlement.
type Site struct {
	Tile  string
	Owner string
	Kind  string
}

var (
	// ErrSettlementNotFound is returned when no settlement occupies a tile.
	ErrSettlementNotFound = errors.New("settlement not found")
	// ErrSiteNotFound is returned when no site occupies a tile.
	ErrSiteNotFound = errors.New("site not found")
	// ErrMapNotFound is returned when no map has been saved for a tile.
	ErrMapNotFound = errors.New("map not found")
	// ErrInvalidMap is returned when map data is not valid JSON.
	ErrInvalidMap = errors.New("map data is not valid JSON")
)

// WorldRepository provides lookups of what occupies each world tile.
type WorldRepository struct {
	db *pgxpool.Pool
}

// NewWorldRepository creates a WorldRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewWorldRepository(db *pgxpool.Pool) *WorldRepository {
	return &WorldRepository{db: db}
}

// SettlementByTile returns the settlement at tile.
//
// Postcondition: Returns the Settlement or ErrSettlementNotFound.
func (r *WorldRepository) SettlementByTile(ctx context.Context, tile string) (Settlement, error) {
	var s Settlement
	err := r.db.QueryRow(ctx,
		`SELECT tile, owner FROM settlements WHERE tile = $1`, tile,
	).Scan(&s.Tile, &s.Owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settlement{}, ErrSettlementNotFound
		}
		return Settlement{}, fmt.Errorf("querying settlement: %w", err)
	}
	return s, nil
}

// SiteByTile returns the site at tile.
//
// Postcondition: Returns the Site or ErrSiteNotFound.
func (r *WorldRepository) SiteByTile(ctx context.Context, tile string) (Site, error) {
	var s Site
	err := r.db.QueryRow(ctx,
		`SELECT tile, owner, kind FROM sites WHERE tile = $1`, tile,
	).Scan(&s.Tile, &s.Owner, &s.Kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Site{}, ErrSiteNotFound
		}
		return Site{}, fmt.Errorf("querying site: %w", err)
	}
	return s, nil
}

// MapByTile returns the saved map data for tile as a JSON document.
//
// Postcondition: Returns the data or ErrMapNotFound.
func (r *WorldRepository) MapByTile(ctx context.Context, tile string) (json.RawMessage, error) {
	var data []byte
	err := r.db.QueryRow(ctx,
		`SELECT map_data FROM maps WHERE tile = $1`, tile,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMapNotFound
		}
		return nil, fmt.Errorf("querying map: %w", err)
	}
	return json.RawMessage(data), nil
}

// SaveSettlement creates or moves ownership of the settlement at s.Tile.
//
// Precondition: s.Owner must name an existing user.
func (r *WorldRepository) SaveSettlement(ctx context.Context, s Settlement) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO settlements (tile, owner) VALUES ($1, $2)
		 ON CONFLICT (tile) DO UPDATE SET owner = EXCLUDED.owner`,
		s.Tile, s.Owner,
	)
	if err != nil {
		return fmt.Errorf("saving settlement %q: %w", s.Tile, err)
	}
	return nil
}

// DeleteSettlement removes the settlement at tile.
//
// Postcondition: The settlement is gone, or ErrSettlementNotFound is returned.
func (r *WorldRepository) DeleteSettlement(ctx context.Context, tile string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM settlements WHERE tile = $1`, tile)
	if err != nil {
		return fmt.Errorf("deleting settlement %q: %w", tile, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSettlementNotFound
	}
	return nil
}

// SaveSite creates or replaces the site at s.Tile.
//
// Precondition: s.Owner must name an existing user.
func (r *WorldRepository) SaveSite(ctx context.Context, s Site) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sites (tile, owner, kind) VALUES ($1, $2, $3)
		 ON CONFLICT (tile) DO UPDATE SET owner = EXCLUDED.owner, kind = EXCLUDED.kind`,
		s.Tile, s.Owner, s.Kind,
	)
	if err != nil {
		return fmt.Errorf("saving site %q: %w", s.Tile, err)
	}
	return nil
}

// SaveMap stores the map data for tile, replacing any previous save.
//
// Precondition: data must be valid JSON; owner must name an existing user.
// Postcondition: MapByTile(tile) returns data, or an error is returned.
func (r *WorldRepository) SaveMap(ctx context.Context, tile, owner string, data json.RawMessage) error {
	if !json.Valid(data) {
		return ErrInvalidMap
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO maps (tile, owner, map_data) VALUES ($1, $2, $3)
		 ON CONFLICT (tile) DO UPDATE SET
			owner = EXCLUDED.owner, map_data = EXCLUDED.map_data, updated_at = NOW()`,
		tile, owner, []byte(data),
	)
	if err != nil {
		return fmt.Errorf("saving map %q: %w", tile, err)
	}
	return nil
}

// StructureTilesByOwner returns every settlement and site tile owned by username.
func (r *WorldRepository) StructureTilesByOwner(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT tile FROM settlements WHERE owner = $1
		 UNION ALL
		 SELECT tile FROM sites WHERE owner = $1
		 ORDER BY tile`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("querying structures of %q: %w", username, err)
	}
	tiles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning structures of %q: %w", username, err)
	}
	return tiles, nil
}
