package geocoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/pinpoint/internal/cache"
	"github.com/UnknownOlympus/pinpoint/internal/metrics"
	"github.com/UnknownOlympus/pinpoint/internal/models"
)

// ErrInvalidCoordinates is reported when a provider answers with a point outside
// the valid latitude/longitude range.
var ErrInvalidCoordinates = errors.New("provider returned coordinates out of range")

// Status is the outcome of a single lookup.
type Status int

const (
	StatusFound Status = iota + 1
	StatusNotFound
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result carries one of three outcomes: coordinates, a confirmed miss, or a
// transient failure that was not cached.
type Result struct {
	Status Status
	Coords *models.Coordinates // set when Status is StatusFound
	Err    error               // set when Status is StatusFailed
	Cached bool                // answered from the cache, no outbound call
}

// Client memoizes a Provider behind a cache.Store. Every distinct query reaches
// the provider at most once for the lifetime of the store.
type Client struct {
	provider     Provider
	providerName string
	store        cache.Store
	metrics      *metrics.Metrics
	log          *slog.Logger
}

// NewClient creates a caching geocode client.
func NewClient(
	provider Provider,
	providerName string,
	store cache.Store,
	metrics *metrics.Metrics,
	log *slog.Logger,
) *Client {
	return &Client{
		provider:     provider,
		providerName: providerName,
		store:        store,
		metrics:      metrics,
		log:          log,
	}
}

// Geocode resolves query. Provider failures are reported inside the Result and
// are not cached; the returned error is reserved for cache read/write failures.
func (c *Client) Geocode(ctx context.Context, query string) (Result, error) {
	cached, found, err := c.store.Get(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read geocode cache: %w", err)
	}

	if found {
		c.metrics.CacheLookups.WithLabelValues(metrics.CacheHit).Inc()
		c.log.DebugContext(ctx, "Geocode cache hit", "query", query)
		if cached == nil {
			return Result{Status: StatusNotFound, Cached: true}, nil
		}
		return Result{Status: StatusFound, Coords: cached, Cached: true}, nil
	}
	c.metrics.CacheLookups.WithLabelValues(metrics.CacheMiss).Inc()

	startTime := time.Now()
	coords, err := c.provider.Geocode(ctx, query)
	c.metrics.RequestSeconds.WithLabelValues(c.providerName).Observe(time.Since(startTime).Seconds())

	switch {
	case errors.Is(err, ErrNotFound):
		if err = c.store.Put(ctx, query, nil); err != nil {
			return Result{}, fmt.Errorf("failed to persist not-found entry: %w", err)
		}
		return Result{Status: StatusNotFound}, nil
	case err != nil:
		c.metrics.APIErrors.Inc()
		return Result{Status: StatusFailed, Err: err}, nil
	case coords == nil || !coords.Valid():
		c.metrics.APIErrors.Inc()
		return Result{Status: StatusFailed, Err: ErrInvalidCoordinates}, nil
	}

	if err = c.store.Put(ctx, query, coords); err != nil {
		return Result{}, fmt.Errorf("failed to persist geocode entry: %w", err)
	}

	return Result{Status: StatusFound, Coords: coords}, nil
}
