package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnknownOlympus/pinpoint/internal/models"
	"github.com/jackc/pgx/v5"
)

const (
	createSchemaQuery = `CREATE TABLE IF NOT EXISTS geocode_cache (query TEXT PRIMARY KEY, latitude DOUBLE PRECISION, longitude DOUBLE PRECISION, created_at TIMESTAMPTZ NOT NULL DEFAULT now());`
	getEntryQuery     = `SELECT latitude IS NOT NULL, COALESCE(latitude, 0), COALESCE(longitude, 0) FROM geocode_cache WHERE query = $1;`
	putEntryQuery     = `INSERT INTO geocode_cache (query, latitude, longitude) VALUES ($1, $2, $3) ON CONFLICT (query) DO NOTHING;`
)

// EnsureSchema creates the cache table if it does not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createSchemaQuery); err != nil {
		return fmt.Errorf("failed to create geocode cache table: %w", err)
	}

	return nil
}

// Get returns the cached answer for query. A row with NULL coordinates is a
// confirmed miss and is reported as found with nil coordinates.
func (r *Repository) Get(ctx context.Context, query string) (*models.Coordinates, bool, error) {
	var (
		resolved bool
		coords   models.Coordinates
	)

	err := r.db.QueryRow(ctx, getEntryQuery, query).Scan(&resolved, &coords.Latitude, &coords.Longitude)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query geocode cache entry: %w", err)
	}

	r.log.DebugContext(ctx, "Geocode cache entry found in database", "query", query, "resolved", resolved)

	if !resolved {
		return nil, true, nil
	}

	return &coords, true, nil
}

// Put inserts the answer for query. Existing rows are left untouched.
func (r *Repository) Put(ctx context.Context, query string, coords *models.Coordinates) error {
	args := []any{query, nil, nil}
	if coords != nil {
		args[1], args[2] = coords.Latitude, coords.Longitude
	}

	if _, err := r.db.Exec(ctx, putEntryQuery, args...); err != nil {
		return fmt.Errorf("failed to insert geocode cache entry: %w", err)
	}

	return nil
}
