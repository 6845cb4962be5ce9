package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/pinpoint/internal/cache"
	"github.com/UnknownOlympus/pinpoint/internal/geocoding"
	"github.com/UnknownOlympus/pinpoint/internal/metrics"
	"github.com/UnknownOlympus/pinpoint/internal/models"
	"github.com/UnknownOlympus/pinpoint/internal/places"
	"github.com/UnknownOlympus/pinpoint/test/mocks"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testSuffix = ", ישראל"
	testDelay  = 1200 * time.Millisecond
)

// harness wires a real FileStore and geocoding.Client around a mocked provider.
type harness struct {
	provider  *mocks.Provider
	cachePath string
	metrics   *metrics.Metrics
	sleeps    []time.Duration
	logger    *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		provider:  mocks.NewProvider(t),
		cachePath: filepath.Join(filet.TmpDir(t, ""), "geocode_cache.json"),
		metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		logger:    slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}
}

// run performs one full pass the way main does: fresh cache load, fresh table.
func (h *harness) run(t *testing.T, input string) (string, Summary, error) {
	t.Helper()
	ctx := t.Context()

	store, err := cache.Open(h.cachePath, h.logger)
	require.NoError(t, err)
	client := geocoding.NewClient(h.provider, "nominatim", store, h.metrics, h.logger)

	table, err := places.Read(strings.NewReader(input))
	require.NoError(t, err)

	svc := NewPlaceService(h.logger, client, h.metrics, testDelay, testSuffix)
	svc.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}

	summary, err := svc.Run(ctx, table)

	var buf bytes.Buffer
	require.NoError(t, places.Write(&buf, table))

	return buf.String(), summary, err
}

func (h *harness) cached(t *testing.T, query string) (*models.Coordinates, bool) {
	t.Helper()
	store, err := cache.Open(h.cachePath, h.logger)
	require.NoError(t, err)
	coords, found, err := store.Get(t.Context(), query)
	require.NoError(t, err)

	return coords, found
}

func TestRun_Scenarios(t *testing.T) {
	defer filet.CleanUp(t)
	input := "name,address,lat,lng\nCafe X,123 Main St,,\n"
	query := "123 Main St, ישראל"

	t.Run("service returns a coordinate", func(t *testing.T) {
		h := newHarness(t)
		h.provider.On("Geocode", mock.Anything, query).
			Return(&models.Coordinates{Latitude: 32.0853, Longitude: 34.7818}, nil).Once()

		out, summary, err := h.run(t, input)

		require.NoError(t, err)
		assert.Equal(t, "name,address,lat,lng\nCafe X,123 Main St,32.085300,34.781800\n", out)
		assert.Equal(t, Summary{Total: 1, Found: 1, NetworkCalls: 1}, summary)

		coords, found := h.cached(t, query)
		assert.True(t, found)
		assert.Equal(t, &models.Coordinates{Latitude: 32.0853, Longitude: 34.7818}, coords)
	})

	t.Run("service returns no results", func(t *testing.T) {
		h := newHarness(t)
		h.provider.On("Geocode", mock.Anything, query).Return(nil, geocoding.ErrNominatimEmptyResponse).Once()

		out, summary, err := h.run(t, input)

		require.NoError(t, err)
		assert.Equal(t, "name,address,lat,lng\nCafe X,123 Main St,,\n", out)
		assert.Equal(t, Summary{Total: 1, NotFound: 1, NetworkCalls: 1}, summary)

		coords, found := h.cached(t, query)
		assert.True(t, found, "a miss is stored explicitly")
		assert.Nil(t, coords)

		_, summary, err = h.run(t, input)
		require.NoError(t, err)
		assert.Equal(t, Summary{Total: 1, NotFound: 1, CacheAnswered: 1}, summary)
		h.provider.AssertNumberOfCalls(t, "Geocode", 1)
	})

	t.Run("network call times out", func(t *testing.T) {
		h := newHarness(t)
		h.provider.On("Geocode", mock.Anything, query).Return(nil, context.DeadlineExceeded).Once()

		out, summary, err := h.run(t, input)

		require.NoError(t, err)
		assert.Equal(t, "name,address,lat,lng\nCafe X,123 Main St,,\n", out)
		assert.Equal(t, Summary{Total: 1, Failed: 1, NetworkCalls: 1}, summary)

		_, found := h.cached(t, query)
		assert.False(t, found, "transient failures are not cached")

		h.provider.On("Geocode", mock.Anything, query).
			Return(&models.Coordinates{Latitude: 32.0853, Longitude: 34.7818}, nil).Once()

		out, _, err = h.run(t, input)
		require.NoError(t, err)
		assert.Equal(t, "name,address,lat,lng\nCafe X,123 Main St,32.085300,34.781800\n", out)
		h.provider.AssertNumberOfCalls(t, "Geocode", 2)
	})
}

func TestRun_Idempotence(t *testing.T) {
	defer filet.CleanUp(t)
	h := newHarness(t)
	input := "name,address,lat,lng,phone\n" +
		"Cafe X,123 Main St,,,03-1\n" +
		"Cafe Y,\"Dizengoff 99\",,,03-2\n" +
		"Cafe Z,Nowhere 1,,,03-3\n" +
		"Cafe W,Rothschild 1,32.06,34.77,03-4\n"

	h.provider.On("Geocode", mock.Anything, "123 Main St, ישראל").
		Return(&models.Coordinates{Latitude: 32.0853, Longitude: 34.7818}, nil).Once()
	h.provider.On("Geocode", mock.Anything, "Dizengoff 99, ישראל").
		Return(&models.Coordinates{Latitude: 32.0795, Longitude: 34.7737}, nil).Once()
	h.provider.On("Geocode", mock.Anything, "Nowhere 1, ישראל").
		Return(nil, geocoding.ErrNominatimEmptyResponse).Once()

	first, _, err := h.run(t, input)
	require.NoError(t, err)
	h.provider.AssertNumberOfCalls(t, "Geocode", 3)

	second, summary, err := h.run(t, input)
	require.NoError(t, err)
	h.provider.AssertNumberOfCalls(t, "Geocode", 3)
	assert.Equal(t, 0, summary.NetworkCalls)
	assert.Equal(t, 3, summary.CacheAnswered)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run output differs (-first +second):\n%s", diff)
	}

	third, summary, err := h.run(t, second)
	require.NoError(t, err)
	h.provider.AssertNumberOfCalls(t, "Geocode", 3)
	assert.Equal(t, 0, summary.NetworkCalls)
	assert.Equal(t, 3, summary.Skipped)
	if diff := cmp.Diff(second, third); diff != "" {
		t.Errorf("re-running on the output changed it (-want +got):\n%s", diff)
	}
}

func TestRun_PassThrough(t *testing.T) {
	mockGeocoder := mocks.NewGeocoder(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := NewPlaceService(slog.Default(), mockGeocoder, m, testDelay, testSuffix)
	svc.sleep = func(context.Context, time.Duration) error {
		t.Fatal("no pause expected without outbound calls")
		return nil
	}
	input := "name,address,lat,lng\nCafe W,Rothschild 1, 32.06 ,34.77\n"

	table, err := places.Read(strings.NewReader(input))
	require.NoError(t, err)

	summary, err := svc.Run(t.Context(), table)

	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 1, Skipped: 1}, summary)
	assert.Equal(t, []string{"Cafe W", "Rothschild 1", " 32.06 ", "34.77"}, table.Places[0].Fields())
	mockGeocoder.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.RowSkipped)), 0)
}

func TestRun_PausesOnlyAfterNetworkCalls(t *testing.T) {
	mockGeocoder := mocks.NewGeocoder(t)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	svc := NewPlaceService(slog.Default(), mockGeocoder, m, testDelay, testSuffix)
	var sleeps []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	input := "name,address,lat,lng\n" +
		"A,network hit,,\n" +
		"B,cache hit,,\n" +
		"C,network failure,,\n" +
		"D,cached miss,,\n" +
		"E,done,1,2\n"
	ctx := t.Context()

	mockGeocoder.On("Geocode", ctx, "network hit, ישראל").
		Return(geocoding.Result{Status: geocoding.StatusFound, Coords: &models.Coordinates{Latitude: 1, Longitude: 2}}, nil).Once()
	mockGeocoder.On("Geocode", ctx, "cache hit, ישראל").
		Return(geocoding.Result{Status: geocoding.StatusFound, Coords: &models.Coordinates{Latitude: 3, Longitude: 4}, Cached: true}, nil).Once()
	mockGeocoder.On("Geocode", ctx, "network failure, ישראל").
		Return(geocoding.Result{Status: geocoding.StatusFailed, Err: assert.AnError}, nil).Once()
	mockGeocoder.On("Geocode", ctx, "cached miss, ישראל").
		Return(geocoding.Result{Status: geocoding.StatusNotFound, Cached: true}, nil).Once()

	table, err := places.Read(strings.NewReader(input))
	require.NoError(t, err)

	summary, err := svc.Run(ctx, table)

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{testDelay, testDelay}, sleeps, "one pause per outbound call, none for cache hits")
	assert.Equal(t, Summary{Total: 5, Skipped: 1, Found: 2, NotFound: 1, Failed: 1, NetworkCalls: 2, CacheAnswered: 2}, summary)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.RowFound)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.RowNotFound)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.RowFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RowsProcessed.WithLabelValues(metrics.RowSkipped)), 0)
}

func TestRun_Aborts(t *testing.T) {
	input := "name,address,lat,lng\nA,first,,\nB,second,,\n"

	t.Run("cache failure stops the pass", func(t *testing.T) {
		mockGeocoder := mocks.NewGeocoder(t)
		svc := NewPlaceService(slog.Default(), mockGeocoder, metrics.NewMetrics(prometheus.NewRegistry()), 0, testSuffix)
		ctx := t.Context()

		bar := captureProgress(svc)

		mockGeocoder.On("Geocode", ctx, "first, ישראל").Return(geocoding.Result{}, assert.AnError).Once()

		table, err := places.Read(strings.NewReader(input))
		require.NoError(t, err)

		_, err = svc.Run(ctx, table)

		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "row 1")
		require.NotNil(t, *bar)
		assert.True(t, (*bar).IsFinished(), "progress bar is finished on abort")
	})

	t.Run("cancellation during the pause stops the pass", func(t *testing.T) {
		mockGeocoder := mocks.NewGeocoder(t)
		svc := NewPlaceService(slog.Default(), mockGeocoder, metrics.NewMetrics(prometheus.NewRegistry()), time.Hour, testSuffix)
		ctx, cancel := context.WithCancel(t.Context())

		mockGeocoder.On("Geocode", ctx, "first, ישראל").
			Run(func(mock.Arguments) { cancel() }).
			Return(geocoding.Result{Status: geocoding.StatusNotFound}, nil).Once()

		table, err := places.Read(strings.NewReader(input))
		require.NoError(t, err)

		bar := captureProgress(svc)

		summary, err := svc.Run(ctx, table)

		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, summary.NetworkCalls)
		require.NotNil(t, *bar)
		assert.True(t, (*bar).IsFinished(), "progress bar is finished on cancellation")
	})
}

// captureProgress makes svc draw to a discarded writer and exposes the bar it creates.
func captureProgress(svc *PlaceService) **progressbar.ProgressBar {
	var bar *progressbar.ProgressBar
	svc.progress = func(total int) *progressbar.ProgressBar {
		bar = progressbar.NewOptions(total, progressbar.OptionSetWriter(io.Discard))
		return bar
	}
	return &bar
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(t.Context(), time.Millisecond))
	require.NoError(t, sleepContext(t.Context(), 0))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestQuery(t *testing.T) {
	svc := NewPlaceService(slog.Default(), nil, nil, 0, testSuffix)

	assert.Equal(t, "123 Main St, ישראל", svc.Query("123 Main St"))
	assert.Equal(t, ", ישראל", svc.Query(""), "empty addresses are still queried")
}
