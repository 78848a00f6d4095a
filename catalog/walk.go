package catalog

// NearStopsByWalk returns the precomputed walk-neighbor list for a
// stop (possibly empty, never nil-panicking: an unset stop simply has
// no neighbors).
func (c *Catalog) NearStopsByWalk(id StopID) *StopWalkTime {
	if int(id) >= len(c.walkTimes) || c.walkTimes[id].Neighbors == nil {
		return &StopWalkTime{StopID: id}
	}
	return &c.walkTimes[id]
}

// SetWalkTimes installs precomputed walk neighborhoods, as produced by
// the walkdistance package. Intended to be called once, before the
// Catalog is shared with readers; it is not safe to call concurrently
// with NearStopsByWalk.
func (c *Catalog) SetWalkTimes(times []StopWalkTime) {
	if cap(c.walkTimes) < len(c.stops) {
		c.walkTimes = make([]StopWalkTime, len(c.stops))
	}
	for _, t := range times {
		if int(t.StopID) < len(c.walkTimes) {
			c.walkTimes[t.StopID] = t
		}
	}
}
