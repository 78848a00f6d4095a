// Package timetable builds the canonical stop ordering and per-trip time
// columns for a set of routes sharing a direction, by topologically
// sorting the occurrence graph of their stop-time templates.
package timetable

import (
	"fmt"
	"sort"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/gtfstime"
)

// ErrNoMatchingTrip is returned when no trip of the requested routes
// runs in the requested direction; the caller should try the other
// direction.
var ErrNoMatchingTrip = fmt.Errorf("%w: no matching trip", catalog.ErrNotFound)

// Timetable is the canonical, topologically-ordered stop sequence for a
// set of routes/direction, together with one time column per
// participating trip, aligned to that sequence.
type Timetable struct {
	Stops []catalog.StopID
	Trips []catalog.TripID

	// Times[i][j] is the absolute time trip Trips[i] visits Stops[j], or
	// gtfstime.Infinite() if that trip does not visit that occurrence.
	Times [][]gtfstime.GtfsTime
}

// node identifies one occurrence of a stop: the i'th time a trip's
// template visits stop. Nodes with the same (StopID, Occurrence) from
// different trips are the same graph node.
type node struct {
	StopID     catalog.StopID
	Occurrence int
}

// tripNodes is a trip's own node sequence and the time at each node,
// recovered from its StopTimes template.
type tripNodes struct {
	tripID catalog.TripID
	nodes  []node
	times  map[node]gtfstime.GtfsTime
}

// Build collects every trip of the given routes running in direction,
// and returns the canonical stop ordering and per-trip time columns.
// reference anchors the absolute times returned in Times; only its
// date is used, combined with each trip's continuous-seconds offset.
func Build(c *catalog.Catalog, routeIDs []catalog.RouteID, direction int8, reference gtfstime.GtfsTime) (*Timetable, error) {
	var trips []tripNodes

	for _, routeID := range routeIDs {
		route := c.Route(routeID)
		for _, tripID := range route.TripIDs {
			trip := c.Trip(tripID)
			if trip.DirectionID != direction {
				continue
			}
			trips = append(trips, buildTripNodes(c, tripID, trip, reference))
		}
	}

	if len(trips) == 0 {
		return nil, ErrNoMatchingTrip
	}

	order := topoSort(trips)

	tt := &Timetable{
		Stops: make([]catalog.StopID, len(order)),
		Trips: make([]catalog.TripID, len(trips)),
		Times: make([][]gtfstime.GtfsTime, len(trips)),
	}
	for i, n := range order {
		tt.Stops[i] = n.StopID
	}
	for i, t := range trips {
		tt.Trips[i] = t.tripID
		row := make([]gtfstime.GtfsTime, len(order))
		for j, n := range order {
			if at, ok := t.times[n]; ok {
				row[j] = at
			} else {
				row[j] = gtfstime.Infinite()
			}
		}
		tt.Times[i] = row
	}

	return tt, nil
}

func buildTripNodes(c *catalog.Catalog, tripID catalog.TripID, trip *catalog.Trip, reference gtfstime.GtfsTime) tripNodes {
	template := c.StopTimes(trip.StopTimesID)

	occurrence := map[catalog.StopID]int{}
	nodes := make([]node, len(template.Entries))
	times := make(map[node]gtfstime.GtfsTime, len(template.Entries))

	for i, entry := range template.Entries {
		occ := occurrence[entry.StopID]
		occurrence[entry.StopID] = occ + 1

		n := node{StopID: entry.StopID, Occurrence: occ}
		nodes[i] = n
		times[n] = reference.WithTimeOfDay(trip.Start + entry.Offset)
	}

	return tripNodes{tripID: tripID, nodes: nodes, times: times}
}

// topoSort builds the occurrence graph across all trips and returns
// its nodes in topological order, DFS-rooted at each trip's first node
// in decreasing order of that trip's template length, so the longest
// variant anchors the ordering.
func topoSort(trips []tripNodes) []node {
	adjacency := map[node][]node{}
	seenEdge := map[[2]node]bool{}

	addEdge := func(from, to node) {
		key := [2]node{from, to}
		if seenEdge[key] {
			return
		}
		seenEdge[key] = true
		adjacency[from] = append(adjacency[from], to)
	}

	var roots []node
	rootSeen := map[node]bool{}
	rootTripLen := map[node]int{}

	for _, t := range trips {
		if len(t.nodes) == 0 {
			continue
		}
		first := t.nodes[0]
		if !rootSeen[first] {
			rootSeen[first] = true
			roots = append(roots, first)
		}
		if len(t.nodes) > rootTripLen[first] {
			rootTripLen[first] = len(t.nodes)
		}
		for i := 0; i+1 < len(t.nodes); i++ {
			addEdge(t.nodes[i], t.nodes[i+1])
		}
	}

	sort.Slice(roots, func(i, j int) bool {
		if rootTripLen[roots[i]] != rootTripLen[roots[j]] {
			return rootTripLen[roots[i]] > rootTripLen[roots[j]]
		}
		// Deterministic tie-break: stable ordering by id.
		if roots[i].StopID != roots[j].StopID {
			return roots[i].StopID < roots[j].StopID
		}
		return roots[i].Occurrence < roots[j].Occurrence
	})

	visited := map[node]bool{}
	var order []node

	var visit func(n node)
	visit = func(n node) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, next := range adjacency[n] {
			visit(next)
		}
		order = append(order, n)
	}

	for _, r := range roots {
		visit(r)
	}
	// Any node unreachable from a root (shouldn't happen given every
	// node originates as some trip's first-or-later stop, but guards
	// against a malformed template) gets appended deterministically.
	var stray []node
	for _, t := range trips {
		for _, n := range t.nodes {
			if !visited[n] {
				visited[n] = true
				stray = append(stray, n)
			}
		}
	}
	sort.Slice(stray, func(i, j int) bool {
		if stray[i].StopID != stray[j].StopID {
			return stray[i].StopID < stray[j].StopID
		}
		return stray[i].Occurrence < stray[j].Occurrence
	})
	order = append(order, stray...)

	// visit appends in post-order (dependencies last); reverse so
	// predecessors precede successors.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	return order
}
