package models

import (
	"strconv"

	"github.com/golang/geo/s2"
)

// Coordinates represents a geographical point defined by its longitude and latitude.
type Coordinates struct {
	Longitude float64 // Longitude of the geographical point.
	Latitude  float64 // Latitude of the geographical point.
}

// Valid reports whether the point lies within [-90, 90] latitude and [-180, 180] longitude.
func (c Coordinates) Valid() bool {
	return s2.LatLngFromDegrees(c.Latitude, c.Longitude).IsValid()
}

// FormatDegrees renders a coordinate component with six fractional digits.
func FormatDegrees(v float64) string {
	const precision = 6
	return strconv.FormatFloat(v, 'f', precision, 64)
}
