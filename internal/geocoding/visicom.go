package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/UnknownOlympus/pinpoint/internal/models"
	"golang.org/x/time/rate"
)

const (
	visicomDefaultLanguage = "en"
	visicomErrorBodyLimit  = 512
)

// VisicomProvider implements geocoding using Visicom API.
type VisicomProvider struct {
	client   HTTPClient    // HTTP client for making requests
	endpoint url.URL       // Language-specific geocode endpoint
	apiKey   string        // API key with geocoding access
	log      *slog.Logger  // Logger for logging operations
	limiter  *rate.Limiter // Client-side request budget
}

// Common errors for Visicom provider.
var (
	ErrVisicomEmptyResponse = fmt.Errorf("visicom API returned empty response: %w", ErrNotFound)
	ErrVisicomInvalidCoords = errors.New("visicom API returned invalid coordinates")
	ErrVisicomUnauthorized  = errors.New("visicom API unauthorized (invalid API key)")
	ErrVisicomStatus        = errors.New("visicom API returned unexpected status")
)

// visicomFeature is either a single GeoJSON feature (limit=1) or a feature
// collection; only the centroid of the first feature is used.
type visicomFeature struct {
	GeoCentroid *struct {
		Coordinates []float64 `json:"coordinates"` // [lng, lat]
	} `json:"geo_centroid"`
	Features []visicomFeature `json:"features"`
}

// centroid returns the first centroid in the answer, or nil when there is none.
func (f *visicomFeature) centroid() []float64 {
	if f.GeoCentroid != nil {
		return f.GeoCentroid.Coordinates
	}
	for i := range f.Features {
		if c := f.Features[i].centroid(); c != nil {
			return c
		}
	}

	return nil
}

// NewVisicomProvider creates a new Visicom geocoding provider.
func NewVisicomProvider(
	apiKey, language string,
	rateLimit int,
	timeout time.Duration,
	log *slog.Logger,
) *VisicomProvider {
	return NewVisicomProviderWithClient(
		&http.Client{Timeout: timeout},
		apiKey,
		language,
		rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		log,
	)
}

// NewVisicomProviderWithClient allows injecting custom HTTP client.
func NewVisicomProviderWithClient(
	client HTTPClient,
	apiKey, language string,
	limiter *rate.Limiter,
	log *slog.Logger,
) *VisicomProvider {
	if language == "" {
		language = visicomDefaultLanguage
	}

	return &VisicomProvider{
		client: client,
		endpoint: url.URL{
			Scheme: "https",
			Host:   "api.visicom.ua",
			Path:   "/data-api/5.0/" + url.PathEscape(language) + "/geocode.json",
		},
		apiKey:  apiKey,
		log:     log,
		limiter: limiter,
	}
}

// Geocode resolves address with a single Visicom request. An answer without
// a centroid is a definitive miss.
func (vp *VisicomProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	if err := vp.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	req, err := vp.newRequest(ctx, address)
	if err != nil {
		return nil, err
	}

	vp.log.DebugContext(ctx, "Geocoding using Visicom", "address", address)

	resp, err := vp.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	if err = checkVisicomStatus(resp); err != nil {
		vp.log.ErrorContext(ctx, "Visicom API error", "status", resp.StatusCode, "error", err)
		return nil, err
	}

	var answer visicomFeature
	if err = json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("failed to decode visicom response: %w", err)
	}

	coords, err := answer.coordinates()
	if err != nil {
		return nil, err
	}

	vp.log.DebugContext(ctx, "Visicom found result", "address", address,
		"lat", coords.Latitude, "lng", coords.Longitude)

	return coords, nil
}

func (vp *VisicomProvider) newRequest(ctx context.Context, address string) (*http.Request, error) {
	endpoint := vp.endpoint
	endpoint.RawQuery = url.Values{
		"text":  {address},
		"limit": {"1"},
		"key":   {vp.apiKey},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

func checkVisicomStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrVisicomUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, visicomErrorBodyLimit))
		return fmt.Errorf("%w %d: %s", ErrVisicomStatus, resp.StatusCode, string(body))
	}
}

func (f *visicomFeature) coordinates() (*models.Coordinates, error) {
	const pairLength = 2

	centroid := f.centroid()
	switch {
	case len(centroid) == 0:
		return nil, ErrVisicomEmptyResponse
	case len(centroid) != pairLength:
		return nil, ErrVisicomInvalidCoords
	}

	coords := &models.Coordinates{Latitude: centroid[1], Longitude: centroid[0]}
	if !coords.Valid() {
		return nil, ErrVisicomInvalidCoords
	}

	return coords, nil
}
