package geocoding

import (
	"context"
	"errors"

	"github.com/UnknownOlympus/pinpoint/internal/models"
)

// ErrNotFound is wrapped by every provider when the service answered but had
// no match for the address. Unlike other errors, it is a definitive answer.
var ErrNotFound = errors.New("no geocoding result")

// Provider is an interface that defines a method for geocoding an address.
// The Geocode method takes a context and an address string as input,
// and returns the corresponding coordinates and an error if any occurs.
type Provider interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
}
