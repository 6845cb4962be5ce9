package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/UnknownOlympus/pinpoint/internal/geocoding"
	"github.com/UnknownOlympus/pinpoint/internal/metrics"
	"github.com/UnknownOlympus/pinpoint/internal/places"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Geocoder resolves a query into a geocoding.Result. *geocoding.Client implements it.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (geocoding.Result, error)
}

// Summary counts the outcome of one pass over the table.
type Summary struct {
	Total         int
	Skipped       int // rows that already had coordinates
	Found         int
	NotFound      int
	Failed        int
	NetworkCalls  int
	CacheAnswered int
}

// PlaceService fills in missing coordinates of a place table, one row at a time.
type PlaceService struct {
	log         *slog.Logger     // Logger for logging service activities
	geocoder    Geocoder         // Cache-backed geocode client
	metrics     *metrics.Metrics // Metrics for tracking service performance
	delay       time.Duration    // Pause after every row that needed an outbound call
	querySuffix string           // Country qualifier appended to every address
	sleep       func(ctx context.Context, d time.Duration) error
	progress    func(total int) *progressbar.ProgressBar
}

// NewPlaceService creates a new instance of PlaceService.
func NewPlaceService(
	log *slog.Logger,
	geocoder Geocoder,
	metrics *metrics.Metrics,
	delay time.Duration,
	querySuffix string,
) *PlaceService {
	return &PlaceService{
		log:         log,
		geocoder:    geocoder,
		metrics:     metrics,
		delay:       delay,
		querySuffix: querySuffix,
		sleep:       sleepContext,
		progress:    newProgressBar,
	}
}

// Query builds the geocoding query for an address.
func (ps *PlaceService) Query(address string) string {
	return address + ps.querySuffix
}

// Run makes a single forward pass over table, filling lat/lng where the
// geocoder finds a match. A failed row never stops the pass; only cache
// failures and cancellation do.
func (ps *PlaceService) Run(ctx context.Context, table *places.Table) (Summary, error) {
	summary := Summary{Total: len(table.Places)}

	pending := 0
	for _, place := range table.Places {
		if !place.HasCoordinates() {
			pending++
		}
	}
	ps.metrics.RowsPending.Set(float64(pending))

	ps.log.InfoContext(ctx, "Processing places", "rows", summary.Total, "missing_coordinates", pending)

	bar := ps.progress(summary.Total)
	if bar != nil {
		defer func() { _ = bar.Finish() }()
	}

	for idx, place := range table.Places {
		if bar != nil {
			_ = bar.Add(1)
		}

		if place.HasCoordinates() {
			summary.Skipped++
			ps.metrics.RowsProcessed.WithLabelValues(metrics.RowSkipped).Inc()
			continue
		}

		query := ps.Query(place.Address())
		ps.log.InfoContext(ctx, "Geocoding", "row", idx+1, "name", place.Name(), "query", query)

		result, err := ps.geocoder.Geocode(ctx, query)
		if err != nil {
			return summary, fmt.Errorf("row %d: %w", idx+1, err)
		}
		ps.metrics.RowsPending.Dec()

		switch result.Status {
		case geocoding.StatusFound:
			place.SetCoordinates(*result.Coords)
			summary.Found++
			ps.log.InfoContext(ctx, "Geocoded", "row", idx+1, "lat", place.Latitude(), "lng", place.Longitude(),
				"cached", result.Cached)
		case geocoding.StatusNotFound:
			summary.NotFound++
			ps.log.WarnContext(ctx, "Not found", "row", idx+1, "query", query, "cached", result.Cached)
		default:
			summary.Failed++
			ps.log.ErrorContext(ctx, "Failed to geocode", "row", idx+1, "query", query, "error", result.Err)
		}
		ps.metrics.RowsProcessed.WithLabelValues(rowLabel(result.Status)).Inc()

		if result.Cached {
			summary.CacheAnswered++
			continue
		}

		summary.NetworkCalls++
		if err = ps.sleep(ctx, ps.delay); err != nil {
			return summary, fmt.Errorf("interrupted after row %d: %w", idx+1, err)
		}
	}

	ps.log.InfoContext(ctx, "Processing finished",
		"rows", summary.Total,
		"skipped", summary.Skipped,
		"found", summary.Found,
		"not_found", summary.NotFound,
		"failed", summary.Failed,
		"network_calls", summary.NetworkCalls,
	)

	return summary, nil
}

func rowLabel(status geocoding.Status) string {
	switch status {
	case geocoding.StatusFound:
		return metrics.RowFound
	case geocoding.StatusNotFound:
		return metrics.RowNotFound
	default:
		return metrics.RowFailed
	}
}

// newProgressBar returns nil when stderr is not a terminal.
func newProgressBar(total int) *progressbar.ProgressBar {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Geocoding places"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
