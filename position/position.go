// Package position implements the trip position interpolator: given a
// trip, it builds a piecewise-linear mapping from continuous
// seconds-since-midnight to a point on the trip's shape, so a vehicle's
// location at an arbitrary instant can be estimated between scheduled
// stops.
package position

import (
	"fmt"
	"math"
	"sort"

	"transitnav.dev/gtfs/catalog"
)

// earthRadiusMeters mirrors catalog's Haversine constant.
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

// Point is a location on a shape.
type Point struct {
	Lat, Lon float64
}

// Interpolator answers position_at queries for a single trip, per
// spec.md §4.5: a piecewise-linear mapping from continuous
// seconds-since-midnight to a point on the trip's shape.
type Interpolator struct {
	tripID      catalog.TripID
	shapePoints []catalog.ShapePoint
	timeAtPoint []int64 // seconds, one per shapePoints entry
}

// Build constructs the Interpolator for trip. Requires trip to
// reference a shape with at least 2 points; returns an error wrapping
// catalog.ErrInvalidInput otherwise (a data-quality condition, not a
// programmer error, since shapes are optional in GTFS).
func Build(c *catalog.Catalog, tripID catalog.TripID) (*Interpolator, error) {
	trip := c.Trip(tripID)
	if trip.ShapeID == catalog.NoShape {
		return nil, fmt.Errorf("trip %d has no shape: %w", tripID, catalog.ErrInvalidInput)
	}

	shape := c.Shape(trip.ShapeID)
	if len(shape.Points) < 2 {
		return nil, fmt.Errorf("trip %d shape has fewer than 2 points: %w", tripID, catalog.ErrInvalidInput)
	}

	template := c.StopTimes(trip.StopTimesID)
	if len(template.Entries) == 0 {
		return nil, fmt.Errorf("trip %d has an empty stop_times template: %w", tripID, catalog.ErrInvalidInput)
	}

	cumulative := cumulativeDistances(shape.Points)

	timeAtPoint := make([]int64, len(shape.Points))
	for i := range timeAtPoint {
		timeAtPoint[i] = -1 // unset sentinel
	}
	timeAtPoint[0] = trip.Start + template.Entries[0].Offset

	anchor := 0
	for _, entry := range template.Entries[1:] {
		stop := c.Stop(entry.StopID)
		target := nearestVertexFrom(shape.Points, anchor, stop.Lat, stop.Lon)

		entryTime := trip.Start + entry.Offset

		if target == anchor {
			continue
		}

		if cumulative[target] == cumulative[anchor] {
			// Zero distance between anchors: skip, leave interior
			// (if any) to a later anchor.
			continue
		}

		if entryTime == timeAtPoint[anchor] {
			// Identical times with non-zero distance: per §4.5,
			// skip advancing this anchor's time and let distance
			// accrue to the next template entry instead.
			continue
		}

		distAnchor := cumulative[anchor]
		distTarget := cumulative[target]
		span := float64(entryTime - timeAtPoint[anchor])

		for v := anchor + 1; v <= target; v++ {
			frac := (cumulative[v] - distAnchor) / (distTarget - distAnchor)
			timeAtPoint[v] = timeAtPoint[anchor] + int64(math.Round(frac*span))
		}
		timeAtPoint[target] = entryTime

		anchor = target
	}

	// Degenerate case: the end time collided with its anchor (two
	// template entries with identical times at the end) -- nudge by 1s
	// so the mapping stays strictly increasing.
	for i := 1; i < len(timeAtPoint); i++ {
		if timeAtPoint[i] == -1 {
			timeAtPoint[i] = timeAtPoint[i-1]
		}
		if timeAtPoint[i] <= timeAtPoint[i-1] {
			timeAtPoint[i] = timeAtPoint[i-1] + 1
		}
	}

	return &Interpolator{tripID: tripID, shapePoints: shape.Points, timeAtPoint: timeAtPoint}, nil
}

// PositionAt returns the trip's estimated position at the given
// continuous-seconds instant, clamped to the trip's first/last shape
// vertex outside its time range.
func (ip *Interpolator) PositionAt(seconds int64) Point {
	i := sort.Search(len(ip.timeAtPoint), func(i int) bool {
		return ip.timeAtPoint[i] > seconds
	}) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(ip.timeAtPoint)-1 {
		last := ip.shapePoints[len(ip.shapePoints)-1]
		return Point{Lat: last.Lat, Lon: last.Lon}
	}

	a, b := ip.shapePoints[i], ip.shapePoints[i+1]
	ta, tb := ip.timeAtPoint[i], ip.timeAtPoint[i+1]
	if tb == ta {
		return Point{Lat: a.Lat, Lon: a.Lon}
	}

	frac := float64(seconds-ta) / float64(tb-ta)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	return Point{
		Lat: a.Lat + (b.Lat-a.Lat)*frac,
		Lon: a.Lon + (b.Lon-a.Lon)*frac,
	}
}

func cumulativeDistances(points []catalog.ShapePoint) []float64 {
	dist := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		dist[i] = dist[i-1] + haversineMeters(points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon)
	}
	return dist
}

// nearestVertexFrom scans forward from `from`, returning the index of
// the shape vertex closest to (lat, lon).
func nearestVertexFrom(points []catalog.ShapePoint, from int, lat, lon float64) int {
	best := from
	bestDist := haversineMeters(lat, lon, points[from].Lat, points[from].Lon)
	for i := from + 1; i < len(points); i++ {
		d := haversineMeters(lat, lon, points[i].Lat, points[i].Lon)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}
