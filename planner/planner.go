// Package planner implements the round-based, multi-criteria journey
// planner: given a Catalog and a query, it returns up to k journeys
// ordered by arrival time then transfer count.
package planner

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/gtfstime"
)

const earthRadiusMeters = 6_371_000.0

func haversineMeters(aLat, aLon, bLat, bLon float64) float64 {
	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := aLatRad - bLatRad
	deltaLon := aLonRad - bLonRad

	a := math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2) + math.Pow(math.Sin(deltaLat/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * earthRadiusMeters
}

// Sequential forces every internal data-parallel map onto a single
// goroutine. Tests flip this to get deterministic, easy-to-debug runs;
// production leaves it false so the per-round route scan fans out.
var Sequential = false

const (
	// sourceWalkRadiusMeters bounds how far a query's starting walk may
	// reach into the network before any transit leg.
	sourceWalkRadiusMeters = 10_000.0
	// transferWalkRadiusMeters bounds walking transfers between rounds.
	transferWalkRadiusMeters = 10_000.0
	// destinationRadiusMeters is the "close enough to count as arrived"
	// radius around the query's to-position.
	destinationRadiusMeters = 100.0
	// nearestStopRadiusMeters is the "reasonable radius" past which a
	// from/to position has no usable stop nearby.
	nearestStopRadiusMeters = 10_000.0
	// activeWindowSeconds is the pre-flight window trips are gathered
	// over: a route with nothing running in the next 5h is dropped.
	activeWindowSeconds = 5 * 3600
	// walkNeighborFallbackK is how many Euclidean-nearest stops back a
	// walking relaxation step when a stop has no precomputed neighbors.
	walkNeighborFallbackK = 8

	// walkSpeedKmh is the constant walking speed spec.md §4.3 names.
	// seconds = meters * 36 / (3 * 10) is seconds = meters / (speed_kmh
	// * 1000 / 3600); written out explicitly rather than folded into a
	// single magic constant.
	walkSpeedKmh = 3.0
)

func secondsByWalk(meters float64) int64 {
	metersPerSecond := walkSpeedKmh * 1000 / 3600
	return int64(meters/metersPerSecond + 0.5)
}

// Query is one journey-planning request.
type Query struct {
	FromLat, FromLon float64
	ToLat, ToLon     float64
	Departure        gtfstime.GtfsTime
	MaxTransfers     int
	K                int
}

// Leg is one contiguous segment of a Journey.
type Leg interface {
	legDeparture() gtfstime.GtfsTime
	legArrival() gtfstime.GtfsTime
}

// RideLeg rides a single trip from one of its stops to a later one.
type RideLeg struct {
	TripID    catalog.TripID
	RouteID   catalog.RouteID
	FromStop  catalog.StopID
	ToStop    catalog.StopID
	FromIndex int
	ToIndex   int
	Departure gtfstime.GtfsTime
	Arrival   gtfstime.GtfsTime
}

func (l RideLeg) legDeparture() gtfstime.GtfsTime { return l.Departure }
func (l RideLeg) legArrival() gtfstime.GtfsTime   { return l.Arrival }

// WalkLeg walks between two stops. The planner emits no walk leg
// between a query position and a stop.
type WalkLeg struct {
	FromStop  catalog.StopID
	ToStop    catalog.StopID
	Meters    float64
	Departure gtfstime.GtfsTime
	Arrival   gtfstime.GtfsTime
}

func (l WalkLeg) legDeparture() gtfstime.GtfsTime { return l.Departure }
func (l WalkLeg) legArrival() gtfstime.GtfsTime   { return l.Arrival }

// Journey is the sequence of legs from the stop nearest query.From to a
// destination stop near query.To; it holds no legs to or from the query
// positions themselves.
type Journey struct {
	Legs []Leg
}

func (j Journey) Departure() gtfstime.GtfsTime { return j.Legs[0].legDeparture() }
func (j Journey) Arrival() gtfstime.GtfsTime   { return j.Legs[len(j.Legs)-1].legArrival() }
func (j Journey) Duration() time.Duration {
	return time.Duration(j.Arrival().Epoch()-j.Departure().Epoch()) * time.Second
}

// parent records how a (stop, round) label was reached.
type parent struct {
	valid bool
	walk  bool

	// Ride fields.
	tripID    catalog.TripID
	routeID   catalog.RouteID
	fromStop  catalog.StopID
	fromIndex int
	toIndex   int

	// Walk fields.
	fromWalkStop catalog.StopID
	meters       float64
}

// FindJourneys runs the round-based labelling algorithm and returns up
// to query.K journeys ordered by arrival time then transfer count.
func FindJourneys(c *catalog.Catalog, q Query) ([]Journey, error) {
	if q.MaxTransfers < 0 {
		return nil, fmt.Errorf("max_transfers must be >= 0: %w", catalog.ErrInvalidInput)
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be >= 1: %w", catalog.ErrInvalidInput)
	}

	sourceStop, err := nearestStopWithinRadius(c, q.FromLat, q.FromLon)
	if err != nil {
		return nil, fmt.Errorf("resolving source: %w", err)
	}
	targetStop, err := nearestStopWithinRadius(c, q.ToLat, q.ToLon)
	if err != nil {
		return nil, fmt.Errorf("resolving destination: %w", err)
	}

	activeTripsByRoute := buildActiveTripsByRoute(c, q.Departure)
	destinationStops := destinationStopSet(c, targetStop, q.ToLat, q.ToLon)

	p := &planState{
		c:                  c,
		query:              q,
		sourceStop:         sourceStop,
		targetStop:         targetStop,
		destinationStops:   destinationStops,
		activeTripsByRoute: activeTripsByRoute,
		banned:             map[catalog.TripID]bool{},
	}

	var journeys []Journey
	for len(journeys) < q.K {
		j, ok := p.run()
		if !ok {
			break
		}
		journeys = append(journeys, j)
		for _, leg := range j.Legs {
			if ride, ok := leg.(RideLeg); ok {
				p.banned[ride.TripID] = true
			}
		}
	}

	rides := func(j Journey) int {
		n := 0
		for _, leg := range j.Legs {
			if _, ok := leg.(RideLeg); ok {
				n++
			}
		}
		return n
	}
	sort.SliceStable(journeys, func(a, b int) bool {
		ja, jb := journeys[a], journeys[b]
		if len(ja.Legs) > 0 && len(jb.Legs) > 0 && !ja.Arrival().Equal(jb.Arrival()) {
			return ja.Arrival().Before(jb.Arrival())
		}
		return rides(ja) < rides(jb)
	})

	return journeys, nil
}

func nearestStopWithinRadius(c *catalog.Catalog, lat, lon float64) (catalog.StopID, error) {
	id, err := c.FindNearestStop(lat, lon)
	if err != nil {
		return 0, err
	}
	stop := c.Stop(id)
	if haversineMeters(lat, lon, stop.Lat, stop.Lon) > nearestStopRadiusMeters {
		return 0, catalog.ErrNotFound
	}
	return id, nil
}

func destinationStopSet(c *catalog.Catalog, targetStop catalog.StopID, toLat, toLon float64) map[catalog.StopID]bool {
	set := map[catalog.StopID]bool{targetStop: true}
	for _, id := range c.StopsInRange(toLat, toLon, destinationRadiusMeters) {
		set[id] = true
	}
	return set
}

// buildActiveTripsByRoute computes, for every route with at least one
// trip active in the next activeWindowSeconds, that route's active
// trips sorted by start offset ascending.
func buildActiveTripsByRoute(c *catalog.Catalog, departure gtfstime.GtfsTime) map[catalog.RouteID][]catalog.TripID {
	result := map[catalog.RouteID][]catalog.TripID{}
	var mu sync.Mutex

	routeIDs := make([]catalog.RouteID, c.NumRoutes())
	for i := range routeIDs {
		routeIDs[i] = catalog.RouteID(i)
	}

	parallelForEach(routeIDs, func(routeID catalog.RouteID) {
		route := c.Route(routeID)
		var active []catalog.TripID
		for _, tripID := range route.TripIDs {
			if c.IsTripActive(tripID, departure, activeWindowSeconds) {
				active = append(active, tripID)
			}
		}
		if len(active) == 0 {
			return
		}
		sort.Slice(active, func(i, j int) bool {
			return c.Trip(active[i]).Start < c.Trip(active[j]).Start
		})
		mu.Lock()
		result[routeID] = active
		mu.Unlock()
	})

	return result
}

// parallelForEach runs fn over items, one goroutine per item, unless
// Sequential is set, in which case it runs in the calling goroutine.
func parallelForEach[T any](items []T, fn func(T)) {
	if Sequential || len(items) <= 1 {
		for _, item := range items {
			fn(item)
		}
		return
	}

	var g errgroup.Group
	for _, item := range items {
		item := item
		g.Go(func() error {
			fn(item)
			return nil
		})
	}
	_ = g.Wait()
}
