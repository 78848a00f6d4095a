package gtfs

import (
	"fmt"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/gtfstime"
	"transitnav.dev/gtfs/planner"
	"transitnav.dev/gtfs/position"
)

// Navigator is the library's query surface: a Catalog plus the two
// entry points callers actually need, journey planning and trip
// position lookup. It holds no mutable state beyond the Catalog it
// wraps.
type Navigator struct {
	Catalog *catalog.Catalog
}

// NewNavigator wraps an already-built Catalog. Callers typically build
// the Catalog via catalog.BuildFromReaders (a live feed), cache.Load
// (a persisted one), or Manager.LoadCatalog (both, transparently).
func NewNavigator(c *catalog.Catalog) *Navigator {
	return &Navigator{Catalog: c}
}

// FindJourneysQuery is the library's single planning request: a pair
// of coordinates, a departure instant, and how many transfers/
// alternatives to allow.
type FindJourneysQuery struct {
	FromLat, FromLng float64
	ToLat, ToLng     float64
	DepartureEpoch   int64
	MaxTransfers     int
	K                int
}

// FindJourneys resolves query against the Navigator's Catalog and
// returns up to query.K journeys ordered by arrival time then
// transfer count.
func (n *Navigator) FindJourneys(query FindJourneysQuery) ([]planner.Journey, error) {
	journeys, err := planner.FindJourneys(n.Catalog, planner.Query{
		FromLat:      query.FromLat,
		FromLon:      query.FromLng,
		ToLat:        query.ToLat,
		ToLon:        query.ToLng,
		Departure:    gtfstime.FromEpoch(query.DepartureEpoch),
		MaxTransfers: query.MaxTransfers,
		K:            query.K,
	})
	if err != nil {
		return nil, fmt.Errorf("finding journeys: %w", err)
	}
	return journeys, nil
}

// TripPosition returns a schedule-based position interpolator for
// tripID, built from its shape and stop-time template. It fails if the
// trip has no shape, a shape of fewer than two points, or an empty
// stop-time template.
func (n *Navigator) TripPosition(tripID catalog.TripID) (*position.Interpolator, error) {
	ip, err := position.Build(n.Catalog, tripID)
	if err != nil {
		return nil, fmt.Errorf("building trip position: %w", err)
	}
	return ip, nil
}
