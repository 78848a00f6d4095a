package catalog

import (
	"log"

	"transitnav.dev/gtfs/gtfstime"
)

// defaultActiveWindow is the "within_seconds" default named in §4.2:
// one day.
const defaultActiveWindow = 24 * 60 * 60

// IsTripActive reports whether trip is active at instant t. withinSeconds
// defaults to defaultActiveWindow when omitted (pass at most one value).
//
// The trip is active iff it starts no later than t+withinSeconds, it
// finishes at or after t, and its service is running on t's date
// (exceptions override the weekly mask). A trip lacking a service is
// always active; this is logged once per trip.
func (c *Catalog) IsTripActive(id TripID, t gtfstime.GtfsTime, withinSeconds ...int64) bool {
	window := int64(defaultActiveWindow)
	if len(withinSeconds) > 0 {
		window = withinSeconds[0]
	}

	trip := c.Trip(id)

	start := t.WithTimeOfDay(trip.Start)
	if start.After(t.AddSeconds(window)) {
		return false
	}

	end := start.AddSeconds(c.tripDuration(trip))
	if end.Before(t) {
		return false
	}

	if trip.ServiceID == NoService {
		c.warnNoServiceOnce(id)
		return true
	}

	return c.serviceRunsOn(trip.ServiceID, t.Date(), t.Weekday())
}

func (c *Catalog) tripDuration(trip *Trip) int64 {
	template := c.StopTimes(trip.StopTimesID)
	if len(template.Entries) == 0 {
		return 0
	}
	return template.Entries[len(template.Entries)-1].Offset
}

func (c *Catalog) serviceRunsOn(id ServiceID, date string, weekday int) bool {
	svc := c.Service(id)
	if running, ok := svc.DateExceptions[date]; ok {
		return running
	}
	if date < svc.StartDate || date > svc.EndDate {
		return false
	}
	return svc.Weekday[weekday]
}

func (c *Catalog) warnNoServiceOnce(id TripID) {
	c.warnedMu.Lock()
	defer c.warnedMu.Unlock()
	if c.warnedNoService[id] {
		return
	}
	c.warnedNoService[id] = true
	log.Printf("catalog: trip %d has no service_id, treating as always-active", id)
}

// TripAfterTime finds, among tripIDs (all of which must reference
// templateID), the earliest-starting trip that is not banned, is
// active within a day of minTime, visits stopID at or after
// fromIndex in its template, and arrives there strictly after
// minTime. Returns ok=false if no candidate qualifies.
func (c *Catalog) TripAfterTime(
	tripIDs []TripID,
	stopID StopID,
	minTime gtfstime.GtfsTime,
	fromIndex int,
	templateID StopTimesID,
	banned map[TripID]bool,
) (trip TripID, stopIndex int, ok bool) {
	template := c.StopTimes(templateID)

	var bestStart int64

	for _, id := range tripIDs {
		if banned[id] {
			continue
		}
		t := c.Trip(id)
		if t.StopTimesID != templateID {
			continue
		}

		idx := -1
		for i := fromIndex; i < len(template.Entries); i++ {
			if template.Entries[i].StopID == stopID {
				idx = i
				break
			}
		}
		if idx == -1 {
			continue
		}

		if !c.IsTripActive(id, minTime, defaultActiveWindow) {
			continue
		}

		arrival := minTime.WithTimeOfDay(t.Start + template.Entries[idx].Offset)
		if !arrival.After(minTime) {
			continue
		}

		if !ok || t.Start < bestStart {
			ok = true
			trip = id
			stopIndex = idx
			bestStart = t.Start
		}
	}

	return trip, stopIndex, ok
}
