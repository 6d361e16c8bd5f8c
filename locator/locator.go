package locator

import (
	"context"
	"errors"

	"github.com/golang/geo/s2"

	"missing-persons-service/models"
)

// ErrNoResponders is returned when no responder location is registered.
// Callers leave the case unassigned and retry later; assignment failure
// never blocks case creation.
var ErrNoResponders = errors.New("no responders available")

const earthRadiusKm = 6371.0

// Source supplies the live responder locations.
type Source interface {
	ListResponderLocations(ctx context.Context) ([]models.ResponderLocation, error)
}

// Filter narrows the candidate set, e.g. to responders of one precinct.
type Filter func(models.ResponderLocation) bool

// Locator answers nearest-responder queries. It is read-only over the
// responder location store. With responder counts in the tens of thousands
// a linear haversine scan is fast enough; swapping in a spatial index would
// not change this contract.
type Locator struct {
	source Source
}

func New(source Source) *Locator {
	return &Locator{source: source}
}

// Nearest returns the responder closest to the given point and the distance
// in kilometers. Ties break toward the lexicographically lowest responder
// id so repeated queries are deterministic.
func (l *Locator) Nearest(ctx context.Context, lat, lng float64, filter Filter) (string, float64, error) {
	locations, err := l.source.ListResponderLocations(ctx)
	if err != nil {
		return "", 0, err
	}

	from := s2.LatLngFromDegrees(lat, lng)

	bestID := ""
	bestDist := 0.0
	for _, loc := range locations {
		if filter != nil && !filter(loc) {
			continue
		}
		d := DistanceKm(from, s2.LatLngFromDegrees(loc.Latitude, loc.Longitude))
		if bestID == "" || d < bestDist || (d == bestDist && loc.ResponderID < bestID) {
			bestID = loc.ResponderID
			bestDist = d
		}
	}

	if bestID == "" {
		return "", 0, ErrNoResponders
	}
	return bestID, bestDist, nil
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b s2.LatLng) float64 {
	return a.Distance(b).Radians() * earthRadiusKm
}
