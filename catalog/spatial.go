package catalog

import (
	"math"
	"sort"
)

// metersPerDegreeLat is the constant conversion the GTFS feeds in this
// corpus operate at (the Earth is treated as a sphere, matching the
// Haversine approximation used elsewhere in this module).
const metersPerDegreeLat = 111_320.0

// haversineMeters is the teacher's Haversine formula, kept
// self-contained here and returning meters instead of kilometers
// since every catalog distance contract is specified in meters.
func haversineMeters(aLat, aLon, bLat, bLon float64) float64 {
	const earthRadiusM = 6_371_000.0

	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := aLatRad - bLatRad
	deltaLon := aLonRad - bLonRad

	a := math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2) + math.Pow(math.Sin(deltaLat/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * earthRadiusM
}

// euclideanSq is the cheap, intentionally-non-geodesic ranking metric
// near_stops uses: squared lat/lng distance. It is monotone-equivalent
// to true distance only at transit scales, and must never be compared
// against a meters value.
func euclideanSq(aLat, aLon, bLat, bLon float64) float64 {
	dLat := aLat - bLat
	dLon := aLon - bLon
	return dLat*dLat + dLon*dLon
}

// FindNearestStop performs a linear scan by geodesic distance,
// tie-breaking by smaller id. Returns ErrNotFound if the Catalog has
// no stops.
func (c *Catalog) FindNearestStop(lat, lon float64) (StopID, error) {
	if len(c.stops) == 0 {
		return 0, ErrNotFound
	}

	best := StopID(0)
	bestDist := haversineMeters(lat, lon, c.stops[0].Lat, c.stops[0].Lon)
	for i := 1; i < len(c.stops); i++ {
		d := haversineMeters(lat, lon, c.stops[i].Lat, c.stops[i].Lon)
		if d < bestDist {
			bestDist = d
			best = StopID(i)
		}
	}

	return best, nil
}

// StopsInRange returns every stop with geodesic distance strictly less
// than meters from (lat, lon), in unspecified order. Uses the spatial
// index to narrow the candidate set, then confirms with an exact
// Haversine check.
func (c *Catalog) StopsInRange(lat, lon float64, meters float64) []StopID {
	if len(c.stops) == 0 {
		return nil
	}

	latDelta := meters / metersPerDegreeLat
	lonDelta := meters / (metersPerDegreeLat * math.Max(0.01, math.Cos(lat*math.Pi/180)))

	min := [2]float64{lon - lonDelta, lat - latDelta}
	max := [2]float64{lon + lonDelta, lat + latDelta}

	var result []StopID
	c.spatialIndex.Search(min, max, func(_, _ [2]float64, data interface{}) bool {
		id := data.(StopID)
		d := haversineMeters(lat, lon, c.stops[id].Lat, c.stops[id].Lon)
		if d < meters {
			result = append(result, id)
		}
		return true
	})

	return result
}

// NearStops returns the k stops of smallest Euclidean (lat/lng
// squared) distance to (lat, lon), ascending. Results are memoised:
// the key is (lat, lon) truncated to milli-degree precision and k.
func (c *Catalog) NearStops(lat, lon float64, k int) []StopID {
	key := nearStopsKey{
		latMilli: int64(lat * 1000),
		lonMilli: int64(lon * 1000),
		k:        k,
	}

	if cached, ok := c.nearStopsCache.Get(key); ok {
		return cached
	}

	candidates := c.nearStopsCandidates(lat, lon, k)

	sort.Slice(candidates, func(i, j int) bool {
		di := euclideanSq(lat, lon, c.stops[candidates[i]].Lat, c.stops[candidates[i]].Lon)
		dj := euclideanSq(lat, lon, c.stops[candidates[j]].Lat, c.stops[candidates[j]].Lon)
		if di != dj {
			return di < dj
		}
		return candidates[i] < candidates[j]
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	c.nearStopsCache.Add(key, candidates)

	return candidates
}

// nearStopsCandidates gathers at least k candidate stops via an
// expanding box search of the spatial index, falling back to every
// stop in the Catalog if the index can't satisfy k within a few
// expansions (tiny/degenerate catalogs).
func (c *Catalog) nearStopsCandidates(lat, lon float64, k int) []StopID {
	if k >= len(c.stops) {
		all := make([]StopID, len(c.stops))
		for i := range all {
			all[i] = StopID(i)
		}
		return all
	}

	seen := map[StopID]bool{}
	var candidates []StopID

	radiusMeters := 500.0
	for attempt := 0; attempt < 8 && len(candidates) < k; attempt++ {
		latDelta := radiusMeters / metersPerDegreeLat
		lonDelta := radiusMeters / (metersPerDegreeLat * math.Max(0.01, math.Cos(lat*math.Pi/180)))
		min := [2]float64{lon - lonDelta, lat - latDelta}
		max := [2]float64{lon + lonDelta, lat + latDelta}

		candidates = candidates[:0]
		seen = map[StopID]bool{}
		c.spatialIndex.Search(min, max, func(_, _ [2]float64, data interface{}) bool {
			id := data.(StopID)
			if !seen[id] {
				seen[id] = true
				candidates = append(candidates, id)
			}
			return true
		})

		radiusMeters *= 4
	}

	if len(candidates) < k {
		all := make([]StopID, len(c.stops))
		for i := range all {
			all[i] = StopID(i)
		}
		return all
	}

	return candidates
}
