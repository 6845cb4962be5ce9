// Package cache memoizes geocoding answers, including confirmed misses.
package cache

import (
	"context"

	"github.com/UnknownOlympus/pinpoint/internal/models"
)

// Store is a persistent mapping from a geocoding query to its answer.
// A found entry with nil coordinates is a confirmed "not found".
type Store interface {
	Get(ctx context.Context, query string) (coords *models.Coordinates, found bool, err error)
	Put(ctx context.Context, query string, coords *models.Coordinates) error
}
