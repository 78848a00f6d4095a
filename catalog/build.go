package catalog

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/rtree"

	"transitnav.dev/gtfs/model"
	"transitnav.dev/gtfs/storage"
)

// nearStopsCacheSize bounds the near_stops memo, per §4.2.
const nearStopsCacheSize = 5000

// Data is the raw, already dense-id'd entity set a Catalog is built
// from. It is what cache.Save/cache.Load persist; BuildFromReaders
// produces it from a GTFS ingestion pipeline, but any other caller can
// construct it directly (e.g. a format-revision loader).
type Data struct {
	Stops     []Stop
	Routes    []Route
	Trips     []Trip
	StopTimes []StopTimes
	Services  []Service
	Shapes    []Shape
	WalkTimes []StopWalkTime
}

// Build constructs an immutable Catalog from already-assembled dense
// data, recomputing the two derived indices (stop -> serving routes,
// route -> distinct templates) regardless of what the input carries.
func Build(data Data) (*Catalog, error) {
	c := &Catalog{
		stops:           append([]Stop(nil), data.Stops...),
		routes:          append([]Route(nil), data.Routes...),
		trips:           append([]Trip(nil), data.Trips...),
		stopTimes:       append([]StopTimes(nil), data.StopTimes...),
		services:        append([]Service(nil), data.Services...),
		shapes:          append([]Shape(nil), data.Shapes...),
		warnedNoService: map[TripID]bool{},
	}

	cache, err := lru.New[nearStopsKey, []StopID](nearStopsCacheSize)
	if err != nil {
		return nil, fmt.Errorf("building near-stops cache: %w", err)
	}
	c.nearStopsCache = cache

	c.buildDerivedIndices()
	c.buildSpatialIndex()

	if len(data.WalkTimes) > 0 {
		c.SetWalkTimes(data.WalkTimes)
	} else {
		c.walkTimes = make([]StopWalkTime, len(c.stops))
	}

	return c, nil
}

// Data returns a copy of the dense entities a Catalog was built from,
// suitable for persisting with cache.Save. The copy carries the derived
// indices as they are; Build discards and recomputes them on load.
func (c *Catalog) Data() Data {
	return Data{
		Stops:     append([]Stop(nil), c.stops...),
		Routes:    append([]Route(nil), c.routes...),
		Trips:     append([]Trip(nil), c.trips...),
		StopTimes: append([]StopTimes(nil), c.stopTimes...),
		Services:  append([]Service(nil), c.services...),
		Shapes:    append([]Shape(nil), c.shapes...),
		WalkTimes: append([]StopWalkTime(nil), c.walkTimes...),
	}
}

func (c *Catalog) buildDerivedIndices() {
	for i := range c.routes {
		c.routes[i].StopTimesTemplates = nil
		c.routes[i].TripIDs = nil
	}
	for i := range c.stops {
		c.stops[i].RouteIDs = nil
	}

	templateSeen := map[RouteID]map[StopTimesID]bool{}
	routeServesStop := map[RouteID]map[StopID]bool{}

	for _, trip := range c.trips {
		c.routes[trip.RouteID].TripIDs = append(c.routes[trip.RouteID].TripIDs, trip.ID)

		if templateSeen[trip.RouteID] == nil {
			templateSeen[trip.RouteID] = map[StopTimesID]bool{}
		}
		if !templateSeen[trip.RouteID][trip.StopTimesID] {
			templateSeen[trip.RouteID][trip.StopTimesID] = true
			c.routes[trip.RouteID].StopTimesTemplates = append(c.routes[trip.RouteID].StopTimesTemplates, trip.StopTimesID)
		}

		if routeServesStop[trip.RouteID] == nil {
			routeServesStop[trip.RouteID] = map[StopID]bool{}
		}
		for _, entry := range c.stopTimes[trip.StopTimesID].Entries {
			routeServesStop[trip.RouteID][entry.StopID] = true
		}
	}

	for routeID, stopSet := range routeServesStop {
		for stopID := range stopSet {
			c.stops[stopID].RouteIDs = append(c.stops[stopID].RouteIDs, routeID)
		}
	}

	for i := range c.stops {
		sort.Slice(c.stops[i].RouteIDs, func(a, b int) bool {
			return c.stops[i].RouteIDs[a] < c.stops[i].RouteIDs[b]
		})
	}
	for i := range c.routes {
		sort.Slice(c.routes[i].StopTimesTemplates, func(a, b int) bool {
			return c.routes[i].StopTimesTemplates[a] < c.routes[i].StopTimesTemplates[b]
		})
	}
}

func (c *Catalog) buildSpatialIndex() {
	idx := &rtree.RTree{}
	for _, s := range c.stops {
		pt := [2]float64{s.Lon, s.Lat}
		idx.Insert(pt, pt, s.ID)
	}
	c.spatialIndex = idx
}

// feedBuilder accumulates dense entities across one or more GTFS feeds,
// shifting ids per feed so multiple feeds can be concatenated into a
// single Catalog without id collisions (§6).
type feedBuilder struct {
	data Data

	templateByKey map[string]StopTimesID
}

// BuildFromReaders ingests one or more parsed GTFS feeds (as produced
// by parse.ParseStatic into a storage.Storage backend) into a single
// Catalog. Dense ids are assigned in encounter order within each feed,
// offset by what earlier feeds already contributed.
func BuildFromReaders(readers ...storage.FeedReader) (*Catalog, error) {
	b := &feedBuilder{templateByKey: map[string]StopTimesID{}}

	for i, r := range readers {
		if err := b.addFeed(r); err != nil {
			return nil, fmt.Errorf("ingesting feed %d: %w", i, err)
		}
	}

	return Build(b.data)
}

func (b *feedBuilder) addFeed(r storage.FeedReader) error {
	stopIDByExternal := map[string]StopID{}
	routeIDByExternal := map[string]RouteID{}
	serviceIDByExternal := map[string]ServiceID{}
	shapeIDByExternal := map[string]ShapeID{}

	stops, err := r.Stops()
	if err != nil {
		return fmt.Errorf("reading stops: %w", err)
	}
	for _, s := range stops {
		id := StopID(len(b.data.Stops))
		stopIDByExternal[s.ID] = id
		b.data.Stops = append(b.data.Stops, Stop{ID: id, Name: s.Name, Lat: s.Lat, Lon: s.Lon})
	}

	routes, err := r.Routes()
	if err != nil {
		return fmt.Errorf("reading routes: %w", err)
	}
	for _, route := range routes {
		id := RouteID(len(b.data.Routes))
		routeIDByExternal[route.ID] = id
		b.data.Routes = append(b.data.Routes, Route{ID: id, ShortName: route.ShortName, LongName: route.LongName})
	}

	if err := b.addServices(r, serviceIDByExternal); err != nil {
		return err
	}

	shapePoints, err := r.ShapePoints()
	if err != nil {
		return fmt.Errorf("reading shapes: %w", err)
	}
	byShape := map[string][]model.ShapePoint{}
	var shapeOrder []string
	for _, p := range shapePoints {
		if byShape[p.ShapeID] == nil {
			shapeOrder = append(shapeOrder, p.ShapeID)
		}
		byShape[p.ShapeID] = append(byShape[p.ShapeID], p)
	}
	for _, shapeExternalID := range shapeOrder {
		pts := byShape[shapeExternalID]
		sort.Slice(pts, func(i, j int) bool { return pts[i].Sequence < pts[j].Sequence })
		id := ShapeID(len(b.data.Shapes))
		shapeIDByExternal[shapeExternalID] = id
		points := make([]ShapePoint, len(pts))
		for i, p := range pts {
			points[i] = ShapePoint{Lat: p.Lat, Lon: p.Lon}
		}
		b.data.Shapes = append(b.data.Shapes, Shape{ID: id, Points: points})
	}

	stopTimesByTrip := map[string][]model.StopTime{}
	stopTimes, err := r.StopTimes()
	if err != nil {
		return fmt.Errorf("reading stop_times: %w", err)
	}
	for _, st := range stopTimes {
		stopTimesByTrip[st.TripID] = append(stopTimesByTrip[st.TripID], st)
	}
	for tripID := range stopTimesByTrip {
		sort.Slice(stopTimesByTrip[tripID], func(i, j int) bool {
			return stopTimesByTrip[tripID][i].StopSequence < stopTimesByTrip[tripID][j].StopSequence
		})
	}

	trips, err := r.Trips()
	if err != nil {
		return fmt.Errorf("reading trips: %w", err)
	}
	for _, t := range trips {
		sts := stopTimesByTrip[t.ID]
		if len(sts) == 0 {
			log.Printf("catalog: trip %q has no stop_times, skipping", t.ID)
			continue
		}

		routeID, ok := routeIDByExternal[t.RouteID]
		if !ok {
			log.Printf("catalog: trip %q references unknown route %q, skipping", t.ID, t.RouteID)
			continue
		}

		var entries []StopTimeEntry
		var start int64
		for _, st := range sts {
			stopID, ok := stopIDByExternal[st.StopID]
			if !ok {
				log.Printf("catalog: trip %q references unknown stop %q, skipping", t.ID, st.StopID)
				continue
			}
			arrival := int64(st.ArrivalTime() / time.Second)
			if len(entries) == 0 {
				start = arrival
			}
			entries = append(entries, StopTimeEntry{
				StopID: stopID,
				Offset: arrival - start,
			})
		}
		if len(entries) == 0 {
			log.Printf("catalog: trip %q has no stop_times referencing known stops, skipping", t.ID)
			continue
		}

		templateID := b.internTemplate(entries)

		serviceID := NoService
		if t.ServiceID != "" {
			if id, ok := serviceIDByExternal[t.ServiceID]; ok {
				serviceID = id
			}
		}

		shapeID := NoShape
		if t.ShapeID != "" {
			if id, ok := shapeIDByExternal[t.ShapeID]; ok {
				shapeID = id
			}
		}

		tripID := TripID(len(b.data.Trips))
		b.data.Trips = append(b.data.Trips, Trip{
			ID:          tripID,
			RouteID:     routeID,
			ShapeID:     shapeID,
			StopTimesID: templateID,
			ServiceID:   serviceID,
			Start:       start,
			Headsign:    t.Headsign,
			DirectionID: t.DirectionID,
		})
	}

	return nil
}

func (b *feedBuilder) addServices(r storage.FeedReader, serviceIDByExternal map[string]ServiceID) error {
	getOrCreate := func(external string) *Service {
		id, ok := serviceIDByExternal[external]
		if !ok {
			id = ServiceID(len(b.data.Services))
			serviceIDByExternal[external] = id
			b.data.Services = append(b.data.Services, Service{ID: id, DateExceptions: map[string]bool{}})
		}
		return &b.data.Services[id]
	}

	calendars, err := r.Calendars()
	if err != nil {
		return fmt.Errorf("reading calendar: %w", err)
	}
	for _, cal := range calendars {
		svc := getOrCreate(cal.ServiceID)
		svc.StartDate = cal.StartDate
		svc.EndDate = cal.EndDate
		// model.Calendar.Weekday packs bits using time.Weekday (Sunday ==
		// 0); Service.Weekday is Monday-first to match gtfstime.
		for d := 0; d < 7; d++ {
			svc.Weekday[d] = cal.Weekday&(1<<uint((d+1)%7)) != 0
		}
	}

	calendarDates, err := r.CalendarDates()
	if err != nil {
		return fmt.Errorf("reading calendar_dates: %w", err)
	}
	for _, cd := range calendarDates {
		svc := getOrCreate(cd.ServiceID)
		svc.DateExceptions[cd.Date] = cd.ExceptionType == 1
	}

	return nil
}

func (b *feedBuilder) internTemplate(entries []StopTimeEntry) StopTimesID {
	var keyb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&keyb, "%d:%d,", e.StopID, e.Offset)
	}
	key := keyb.String()

	if id, ok := b.templateByKey[key]; ok {
		return id
	}

	id := StopTimesID(len(b.data.StopTimes))
	b.templateByKey[key] = id
	b.data.StopTimes = append(b.data.StopTimes, StopTimes{ID: id, Entries: entries})
	return id
}
