package planner

import (
	"sync"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/gtfstime"
)

// planState holds everything that survives across the k runs of the
// labelling algorithm: the query-derived constants. Per-run mutable
// state (T, Tbest, P, marked, best_*) is rebuilt fresh by run().
type planState struct {
	c     *catalog.Catalog
	query Query

	sourceStop       catalog.StopID
	targetStop       catalog.StopID
	destinationStops map[catalog.StopID]bool

	activeTripsByRoute map[catalog.RouteID][]catalog.TripID

	banned map[catalog.TripID]bool
}

// scanTriple is one (route, template, earliest index) unit of work
// for the route-scan phase.
type scanTriple struct {
	routeID    catalog.RouteID
	templateID catalog.StopTimesID
	fromIndex  int
}

// update is a candidate label improvement, collected during a phase
// and applied serially afterward.
type update struct {
	stop   catalog.StopID
	at     gtfstime.GtfsTime
	parent parent
}

// run executes one full labelling pass (round 0 through
// MaxTransfers+1) and, if any destination stop was reached, returns
// the reconstructed best journey.
func (p *planState) run() (Journey, bool) {
	rounds := p.query.MaxTransfers + 2 // round 0 (start) .. MaxTransfers+1

	numStops := p.c.NumStops()
	T := make([][]gtfstime.GtfsTime, rounds)
	P := make([][]parent, rounds)
	for r := 0; r < rounds; r++ {
		T[r] = make([]gtfstime.GtfsTime, numStops)
		P[r] = make([]parent, numStops)
		for s := 0; s < numStops; s++ {
			T[r][s] = gtfstime.Infinite()
		}
	}
	Tbest := make([]gtfstime.GtfsTime, numStops)
	for s := 0; s < numStops; s++ {
		Tbest[s] = gtfstime.Infinite()
	}

	var bestStop catalog.StopID
	var bestRound int
	bestArrival := gtfstime.Infinite()
	haveBest := false

	T[0][p.sourceStop] = p.query.Departure
	Tbest[p.sourceStop] = p.query.Departure
	marked := map[catalog.StopID]bool{p.sourceStop: true}

	tryDestination := func(s catalog.StopID, at gtfstime.GtfsTime, round int) {
		if !p.destinationStops[s] {
			return
		}
		if !haveBest || at.Before(bestArrival) || (at.Equal(bestArrival) && round < bestRound) {
			haveBest = true
			bestStop = s
			bestRound = round
			bestArrival = at
		}
	}
	tryDestination(p.sourceStop, p.query.Departure, 0)

	marked = p.relaxWalking(marked, T, Tbest, P, 0, tryDestination)

	for round := 1; round < rounds; round++ {
		if len(marked) == 0 {
			break
		}

		triples := p.buildScanTriples(marked)
		marked = map[catalog.StopID]bool{}

		updates := p.scanRoutes(triples, T, Tbest, round, bestArrival)
		rideMarks := p.applyUpdates(updates, T, Tbest, P, round, tryDestination)
		for s := range rideMarks {
			marked[s] = true
		}

		walkMarks := p.relaxWalking(rideMarks, T, Tbest, P, round, tryDestination)
		for s := range walkMarks {
			marked[s] = true
		}
	}

	if !haveBest {
		return Journey{}, false
	}

	return p.reconstruct(bestStop, bestRound, P), true
}

// buildScanTriples derives, from the newly marked stops, one
// (route, template, earliest index) triple per (route, template) pair
// a marked stop participates in.
func (p *planState) buildScanTriples(marked map[catalog.StopID]bool) []scanTriple {
	type key struct {
		route    catalog.RouteID
		template catalog.StopTimesID
	}
	earliest := map[key]int{}

	for stopID := range marked {
		stop := p.c.Stop(stopID)
		for _, routeID := range stop.RouteIDs {
			if _, ok := p.activeTripsByRoute[routeID]; !ok {
				continue
			}
			route := p.c.Route(routeID)
			for _, templateID := range route.StopTimesTemplates {
				template := p.c.StopTimes(templateID)
				idx := indexOfStop(template, stopID)
				if idx < 0 {
					continue
				}
				k := key{routeID, templateID}
				if cur, ok := earliest[k]; !ok || idx < cur {
					earliest[k] = idx
				}
			}
		}
	}

	triples := make([]scanTriple, 0, len(earliest))
	for k, idx := range earliest {
		triples = append(triples, scanTriple{routeID: k.route, templateID: k.template, fromIndex: idx})
	}
	return triples
}

func indexOfStop(template *catalog.StopTimes, stopID catalog.StopID) int {
	for i, e := range template.Entries {
		if e.StopID == stopID {
			return i
		}
	}
	return -1
}

// scanRoutes performs the route-scan phase (§4.3a) over every triple,
// in parallel unless Sequential, and returns the collected candidate
// updates for the apply phase.
func (p *planState) scanRoutes(triples []scanTriple, T [][]gtfstime.GtfsTime, Tbest []gtfstime.GtfsTime, round int, bestArrival gtfstime.GtfsTime) []update {
	var mu sync.Mutex
	var all []update

	parallelForEach(triples, func(tr scanTriple) {
		local := p.scanOneTriple(tr, T, Tbest, round, bestArrival)
		if len(local) == 0 {
			return
		}
		mu.Lock()
		all = append(all, local...)
		mu.Unlock()
	})

	return all
}

func (p *planState) scanOneTriple(tr scanTriple, T [][]gtfstime.GtfsTime, Tbest []gtfstime.GtfsTime, round int, bestArrival gtfstime.GtfsTime) []update {
	template := p.c.StopTimes(tr.templateID)
	trips := p.activeTripsByRoute[tr.routeID]

	var updates []update

	var currentTrip catalog.TripID
	haveTrip := false
	var currentFromStop catalog.StopID
	var currentFromIndex int

	for i := tr.fromIndex; i < len(template.Entries); i++ {
		s := template.Entries[i].StopID

		if haveTrip {
			trip := p.c.Trip(currentTrip)
			arr := p.query.Departure.WithTimeOfDay(trip.Start + template.Entries[i].Offset)
			if arr.Before(Tbest[s]) && (arr.Before(bestArrival) || arr.Equal(bestArrival)) {
				updates = append(updates, update{
					stop: s,
					at:   arr,
					parent: parent{
						valid: true, walk: false,
						tripID: currentTrip, routeID: tr.routeID,
						fromStop: currentFromStop, fromIndex: currentFromIndex, toIndex: i,
					},
				})
			}
		}

		prevLabel := T[round-1][s]

		shouldConsiderBoarding := !haveTrip
		if haveTrip {
			trip := p.c.Trip(currentTrip)
			currentArr := p.query.Departure.WithTimeOfDay(trip.Start + template.Entries[i].Offset)
			shouldConsiderBoarding = !prevLabel.After(currentArr)
		}

		if !shouldConsiderBoarding {
			continue
		}

		newTrip, j, ok := p.c.TripAfterTime(trips, s, prevLabel, i, tr.templateID, p.banned)
		if !ok {
			continue
		}

		if j > i {
			i = j - 1 // the for-loop's i++ lands us exactly on j
			continue
		}

		if !haveTrip {
			haveTrip = true
			currentTrip = newTrip
			currentFromStop = s
			currentFromIndex = i
			continue
		}

		if newTrip != currentTrip {
			oldTrip := p.c.Trip(currentTrip)
			oldArr := p.query.Departure.WithTimeOfDay(oldTrip.Start + template.Entries[i].Offset)
			newTripObj := p.c.Trip(newTrip)
			newArr := p.query.Departure.WithTimeOfDay(newTripObj.Start + template.Entries[i].Offset)
			if newArr.Before(oldArr) {
				currentTrip = newTrip
				currentFromStop = s
				currentFromIndex = i
			}
			continue
		}

		// Same trip: consider rebinding the boarding stop to s if doing
		// so increases the slack (wait-maximisation heuristic, §4.3).
		trip := p.c.Trip(currentTrip)
		arr := p.query.Departure.WithTimeOfDay(trip.Start + template.Entries[i].Offset)
		newSlack := arr.Distance(prevLabel)
		oldSlack := arr.Distance(T[round-1][currentFromStop])
		if newSlack > oldSlack {
			currentFromStop = s
			currentFromIndex = i
		}
	}

	return updates
}

// applyUpdates is the single-threaded dedup/apply pass shared by the
// route-scan and walking-relaxation phases: a candidate is written
// only if it strictly improves Tbest, and destination bookkeeping
// happens here too.
func (p *planState) applyUpdates(
	updates []update,
	T [][]gtfstime.GtfsTime,
	Tbest []gtfstime.GtfsTime,
	P [][]parent,
	round int,
	tryDestination func(catalog.StopID, gtfstime.GtfsTime, int),
) map[catalog.StopID]bool {
	marks := map[catalog.StopID]bool{}

	for _, u := range updates {
		if !u.at.Before(Tbest[u.stop]) {
			continue
		}
		Tbest[u.stop] = u.at
		T[round][u.stop] = u.at
		P[round][u.stop] = u.parent
		marks[u.stop] = true
		tryDestination(u.stop, u.at, round)
	}

	return marks
}

// relaxWalking performs the walking-relaxation phase (§4.3b) for every
// stop in fromStops, returning the set of newly-touched stops.
func (p *planState) relaxWalking(
	fromStops map[catalog.StopID]bool,
	T [][]gtfstime.GtfsTime,
	Tbest []gtfstime.GtfsTime,
	P [][]parent,
	round int,
	tryDestination func(catalog.StopID, gtfstime.GtfsTime, int),
) map[catalog.StopID]bool {
	stops := make([]catalog.StopID, 0, len(fromStops))
	for s := range fromStops {
		stops = append(stops, s)
	}

	var mu sync.Mutex
	var updates []update

	parallelForEach(stops, func(s catalog.StopID) {
		at := T[round][s]
		if round == 0 {
			at = p.query.Departure
		}

		neighbors := p.walkNeighbors(s)
		var local []update
		for _, n := range neighbors {
			if n.meters > transferWalkRadiusMeters && round > 0 {
				continue
			}
			if n.meters > sourceWalkRadiusMeters && round == 0 {
				continue
			}
			arr := at.AddSeconds(secondsByWalk(n.meters))
			if !arr.Before(Tbest[n.stop]) {
				continue
			}
			local = append(local, update{
				stop: n.stop,
				at:   arr,
				parent: parent{
					valid: true, walk: true,
					fromWalkStop: s, meters: n.meters,
				},
			})
		}
		if len(local) > 0 {
			mu.Lock()
			updates = append(updates, local...)
			mu.Unlock()
		}
	})

	return p.applyUpdates(updates, T, Tbest, P, round, tryDestination)
}

type walkNeighbor struct {
	stop   catalog.StopID
	meters float64
}

func (p *planState) walkNeighbors(s catalog.StopID) []walkNeighbor {
	wt := p.c.NearStopsByWalk(s)
	if len(wt.Neighbors) > 0 {
		out := make([]walkNeighbor, len(wt.Neighbors))
		for i, n := range wt.Neighbors {
			out[i] = walkNeighbor{stop: n.StopID, meters: n.Meters}
		}
		return out
	}

	stop := p.c.Stop(s)
	near := p.c.NearStops(stop.Lat, stop.Lon, walkNeighborFallbackK)
	out := make([]walkNeighbor, 0, len(near))
	for _, id := range near {
		if id == s {
			continue
		}
		other := p.c.Stop(id)
		out = append(out, walkNeighbor{stop: id, meters: haversineMeters(stop.Lat, stop.Lon, other.Lat, other.Lon)})
	}
	return out
}

// reconstruct walks P backward from (bestStop, bestRound) to the
// source, emitting legs in forward order.
func (p *planState) reconstruct(bestStop catalog.StopID, bestRound int, P [][]parent) Journey {
	var legs []Leg

	stop := bestStop
	round := bestRound

	for stop != p.sourceStop {
		par := P[round][stop]

		if par.walk {
			legs = append(legs, WalkLeg{
				FromStop: par.fromWalkStop,
				ToStop:   stop,
				Meters:   par.meters,
			})
			stop = par.fromWalkStop
			continue
		}

		trip := p.c.Trip(par.tripID)
		template := p.c.StopTimes(trip.StopTimesID)
		dep := p.query.Departure.WithTimeOfDay(trip.Start + template.Entries[par.fromIndex].Offset)
		arr := p.query.Departure.WithTimeOfDay(trip.Start + template.Entries[par.toIndex].Offset)

		legs = append(legs, RideLeg{
			TripID:    par.tripID,
			RouteID:   par.routeID,
			FromStop:  par.fromStop,
			ToStop:    stop,
			FromIndex: par.fromIndex,
			ToIndex:   par.toIndex,
			Departure: dep,
			Arrival:   arr,
		})
		stop = par.fromStop
		round--
	}

	for i, j := 0, len(legs)-1; i < j; i, j = i+1, j-1 {
		legs[i], legs[j] = legs[j], legs[i]
	}

	fillWalkTimes(legs, p.query.Departure)

	return Journey{Legs: legs}
}

// fillWalkTimes back-derives Departure/Arrival on WalkLeg entries,
// which P doesn't carry directly: a walk's arrival is the next leg's
// departure (or the journey's final arrival, for a trailing walk), and
// its departure is the previous leg's arrival (or the query departure,
// for the very first leg).
func fillWalkTimes(legs []Leg, departure gtfstime.GtfsTime) {
	for i, leg := range legs {
		w, ok := leg.(WalkLeg)
		if !ok {
			continue
		}
		if i == 0 {
			w.Departure = departure
		} else {
			w.Departure = legs[i-1].legArrival()
		}
		if i+1 < len(legs) {
			w.Arrival = legs[i+1].legDeparture()
		} else {
			w.Arrival = w.Departure.AddSeconds(secondsByWalk(w.Meters))
		}
		legs[i] = w
	}
}
