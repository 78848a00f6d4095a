// Package catalog implements the Catalog: the immutable in-memory
// transit schedule that the planner, timetable and trip-position
// interpolator all borrow by reference. Entities are addressed by
// dense integer ids assigned at load time; nothing mutates after
// Build/BuildFromReaders returns.
package catalog

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/rtree"
)

type StopID int
type RouteID int
type TripID int
type StopTimesID int
type ServiceID int
type ShapeID int

// NoService marks a Trip that has no ServiceID in the source feed. Per
// spec such trips are treated as always-active, with a warning logged
// once.
const NoService ServiceID = -1

// NoShape marks a Trip whose shape_id was blank or absent.
const NoShape ShapeID = -1

type Stop struct {
	ID       StopID
	Name     string
	Lat, Lon float64

	// RouteIDs is the derived index: every route with at least one
	// trip visiting this stop.
	RouteIDs []RouteID
}

type Route struct {
	ID                 RouteID
	ShortName          string
	LongName           string
	TripIDs            []TripID
	StopTimesTemplates []StopTimesID
}

type Trip struct {
	ID          TripID
	RouteID     RouteID
	ShapeID     ShapeID
	StopTimesID StopTimesID
	ServiceID   ServiceID
	// Start is the trip's first stop time, in continuous
	// seconds-since-midnight of its service day.
	Start       int64
	Headsign    string
	DirectionID int8
}

// StopTimeEntry is one (stop, offset) pair in a StopTimes template.
// Offset is seconds from the trip's start (template[0].Offset == 0).
type StopTimeEntry struct {
	StopID StopID
	Offset int64
}

// StopTimes is a template shared by every trip that visits the same
// stops with the same relative timings.
type StopTimes struct {
	ID      StopTimesID
	Entries []StopTimeEntry
}

type Service struct {
	ID ServiceID
	// Weekday[0] is Monday ... Weekday[6] is Sunday, matching
	// gtfstime.GtfsTime.Weekday().
	Weekday        [7]bool
	StartDate      string
	EndDate        string
	DateExceptions map[string]bool // YYYYMMDD -> running
}

type ShapePoint struct {
	Lat, Lon float64
}

type Shape struct {
	ID     ShapeID
	Points []ShapePoint
}

type WalkNeighbor struct {
	StopID StopID
	Meters float64
}

type StopWalkTime struct {
	StopID    StopID
	Neighbors []WalkNeighbor
}

type nearStopsKey struct {
	latMilli int64
	lonMilli int64
	k        int
}

// Catalog is immutable after Build/BuildFromReaders returns. All reads
// are safe for concurrent use without external locking; the only
// mutable state is the near-stops memo cache, which is internally
// synchronized.
type Catalog struct {
	stops     []Stop
	routes    []Route
	trips     []Trip
	stopTimes []StopTimes
	services  []Service
	shapes    []Shape
	walkTimes []StopWalkTime // indexed by StopID; Neighbors nil if unset

	spatialIndex *rtree.RTree

	nearStopsCache *lru.Cache[nearStopsKey, []StopID]

	warnedMu        sync.Mutex
	warnedNoService map[TripID]bool
}

// Get* accessors are O(1) and panic on an out-of-range id: these
// denote programmer error, never a runtime condition the caller can
// recover from.

func (c *Catalog) Stop(id StopID) *Stop { return &c.stops[id] }

func (c *Catalog) Route(id RouteID) *Route { return &c.routes[id] }

func (c *Catalog) Trip(id TripID) *Trip { return &c.trips[id] }

func (c *Catalog) StopTimes(id StopTimesID) *StopTimes { return &c.stopTimes[id] }

func (c *Catalog) Service(id ServiceID) *Service { return &c.services[id] }

func (c *Catalog) Shape(id ShapeID) *Shape { return &c.shapes[id] }

func (c *Catalog) NumStops() int { return len(c.stops) }

func (c *Catalog) NumRoutes() int { return len(c.routes) }

func (c *Catalog) NumTrips() int { return len(c.trips) }
