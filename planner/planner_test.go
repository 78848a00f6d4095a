package planner_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/gtfstime"
	"transitnav.dev/gtfs/model"
	"transitnav.dev/gtfs/planner"
	"transitnav.dev/gtfs/storage"
)

// lineFeed is a single bus route of four stops, one outbound trip per
// hour for the whole morning, running every day.
func lineFeed(t *testing.T) storage.FeedReader {
	t.Helper()

	s := storage.NewMemoryStorage()
	w, err := s.GetWriter("line")
	require.NoError(t, err)

	stops := []model.Stop{
		{ID: "a", Name: "A", Lat: 45.0, Lon: 12.0},
		{ID: "b", Name: "B", Lat: 45.01, Lon: 12.0},
		{ID: "c", Name: "C", Lat: 45.02, Lon: 12.0},
		{ID: "d", Name: "D", Lat: 45.03, Lon: 12.0},
	}
	for _, s := range stops {
		require.NoError(t, w.WriteStop(s))
	}

	require.NoError(t, w.WriteRoute(model.Route{ID: "r1", ShortName: "1"}))
	require.NoError(t, w.WriteCalendar(model.Calendar{ServiceID: "daily", StartDate: "20260101", EndDate: "20261231", Weekday: 0x7f}))

	require.NoError(t, w.BeginTrips())
	starts := []string{"080000", "090000", "100000"}
	for i, start := range starts {
		tripID := "t" + string(rune('0'+i))
		require.NoError(t, w.WriteTrip(model.Trip{ID: tripID, RouteID: "r1", ServiceID: "daily"}))
		_ = start
	}
	require.NoError(t, w.EndTrips())

	require.NoError(t, w.BeginStopTimes())
	offsets := []string{"0000", "0500", "1000", "1500"}
	for i, start := range starts {
		tripID := "t" + string(rune('0'+i))
		hh := start[0:2]
		for seq, stopID := range []string{"a", "b", "c", "d"} {
			mm := offsets[seq][0:2]
			ss := offsets[seq][2:4]
			at := hh + mm + ss
			require.NoError(t, w.WriteStopTime(model.StopTime{
				TripID: tripID, StopID: stopID, StopSequence: uint32(seq), Arrival: at, Departure: at,
			}))
		}
	}
	require.NoError(t, w.EndStopTimes())

	require.NoError(t, w.Close())

	r, err := s.GetReader("line")
	require.NoError(t, err)
	return r
}

func buildLineCatalog(t *testing.T) *catalog.Catalog {
	c, err := catalog.BuildFromReaders(lineFeed(t))
	require.NoError(t, err)
	return c
}

func TestFindJourneysBasic(t *testing.T) {
	c := buildLineCatalog(t)

	departure, err := gtfstime.FromDate("20260706")
	require.NoError(t, err)
	departure = departure.WithTimeOfDay(7 * 3600)

	journeys, err := planner.FindJourneys(c, planner.Query{
		FromLat: 45.0, FromLon: 12.0,
		ToLat: 45.03, ToLon: 12.0,
		Departure:    departure,
		MaxTransfers: 2,
		K:            1,
	})
	require.NoError(t, err)
	require.Len(t, journeys, 1)

	j := journeys[0]
	require.NotEmpty(t, j.Legs)
	assert.False(t, j.Departure().After(j.Arrival()))
}

func TestFindJourneysInvalidInput(t *testing.T) {
	c := buildLineCatalog(t)
	departure, err := gtfstime.FromDate("20260706")
	require.NoError(t, err)

	_, err = planner.FindJourneys(c, planner.Query{K: 0, Departure: departure})
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)

	_, err = planner.FindJourneys(c, planner.Query{K: 1, MaxTransfers: -1, Departure: departure})
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)
}

func TestFindJourneysKAlternativesDisjointTrips(t *testing.T) {
	c := buildLineCatalog(t)

	departure, err := gtfstime.FromDate("20260706")
	require.NoError(t, err)
	departure = departure.WithTimeOfDay(7 * 3600)

	journeys, err := planner.FindJourneys(c, planner.Query{
		FromLat: 45.0, FromLon: 12.0,
		ToLat: 45.03, ToLon: 12.0,
		Departure:    departure,
		MaxTransfers: 0,
		K:            3,
	})
	require.NoError(t, err)

	seen := map[catalog.TripID]bool{}
	for _, j := range journeys {
		for _, leg := range j.Legs {
			if ride, ok := leg.(planner.RideLeg); ok {
				assert.False(t, seen[ride.TripID], "trip %d reused across journeys", ride.TripID)
				seen[ride.TripID] = true
			}
		}
	}

	for i := 1; i < len(journeys); i++ {
		assert.True(t, journeys[i-1].Arrival().Before(journeys[i].Arrival()) || journeys[i-1].Arrival().Equal(journeys[i].Arrival()))
	}
}

func TestFindJourneysSequentialMatchesParallel(t *testing.T) {
	c := buildLineCatalog(t)
	departure, err := gtfstime.FromDate("20260706")
	require.NoError(t, err)
	departure = departure.WithTimeOfDay(7 * 3600)

	q := planner.Query{
		FromLat: 45.0, FromLon: 12.0,
		ToLat: 45.03, ToLon: 12.0,
		Departure:    departure,
		MaxTransfers: 2,
		K:            1,
	}

	planner.Sequential = true
	seq, err := planner.FindJourneys(c, q)
	require.NoError(t, err)

	planner.Sequential = false
	par, err := planner.FindJourneys(c, q)
	require.NoError(t, err)
	planner.Sequential = false

	require.Len(t, seq, len(par))
	if len(seq) > 0 {
		assert.Equal(t, seq[0].Arrival(), par[0].Arrival())
	}
}
