package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/gtfstime"
	"transitnav.dev/gtfs/model"
	"transitnav.dev/gtfs/storage"
)

// veniceFeed builds a tiny one-route sample loosely modeled on the
// "Venice public-transit sample" scenario: a vaporetto line with three
// stops and a single weekday service.
func veniceFeed(t *testing.T) storage.FeedReader {
	t.Helper()

	s := storage.NewMemoryStorage()
	w, err := s.GetWriter("venice")
	require.NoError(t, err)

	require.NoError(t, w.WriteStop(model.Stop{ID: "ferrovia", Name: "Ferrovia", Lat: 45.4421, Lon: 12.3220}))
	require.NoError(t, w.WriteStop(model.Stop{ID: "rialto", Name: "Rialto", Lat: 45.4380, Lon: 12.3358}))
	require.NoError(t, w.WriteStop(model.Stop{ID: "san-marco", Name: "San Marco", Lat: 45.4337, Lon: 12.3388}))

	require.NoError(t, w.WriteRoute(model.Route{ID: "line-1", ShortName: "1", LongName: "Vaporetto 1", Type: model.RouteTypeFerry}))

	require.NoError(t, w.WriteCalendar(model.Calendar{
		ServiceID: "weekday",
		StartDate: "20260101",
		EndDate:   "20261231",
		Weekday:   1<<1 | 1<<2 | 1<<3 | 1<<4 | 1<<5, // Mon-Fri (time.Weekday bits)
	}))
	require.NoError(t, w.WriteCalendarDate(model.CalendarDate{
		ServiceID:     "weekday",
		Date:          "20260704",
		ExceptionType: 2, // removed
	}))

	require.NoError(t, w.BeginTrips())
	require.NoError(t, w.WriteTrip(model.Trip{ID: "t1", RouteID: "line-1", ServiceID: "weekday", Headsign: "San Marco"}))
	require.NoError(t, w.EndTrips())

	require.NoError(t, w.BeginStopTimes())
	require.NoError(t, w.WriteStopTime(model.StopTime{TripID: "t1", StopID: "ferrovia", StopSequence: 0, Arrival: "080000", Departure: "080000"}))
	require.NoError(t, w.WriteStopTime(model.StopTime{TripID: "t1", StopID: "rialto", StopSequence: 1, Arrival: "080500", Departure: "080500"}))
	require.NoError(t, w.WriteStopTime(model.StopTime{TripID: "t1", StopID: "san-marco", StopSequence: 2, Arrival: "081200", Departure: "081200"}))
	require.NoError(t, w.EndStopTimes())

	require.NoError(t, w.Close())

	r, err := s.GetReader("venice")
	require.NoError(t, err)
	return r
}

func TestBuildFromReadersBasic(t *testing.T) {
	c, err := catalog.BuildFromReaders(veniceFeed(t))
	require.NoError(t, err)

	require.Equal(t, 3, c.NumStops())
	require.Equal(t, 1, c.NumRoutes())
	require.Equal(t, 1, c.NumTrips())

	trip := c.Trip(0)
	assert.Equal(t, int64(8*3600), trip.Start)
	assert.NotEqual(t, catalog.NoService, trip.ServiceID)

	template := c.StopTimes(trip.StopTimesID)
	require.Len(t, template.Entries, 3)
	assert.Equal(t, int64(0), template.Entries[0].Offset)
	assert.Equal(t, int64(300), template.Entries[1].Offset)
	assert.Equal(t, int64(720), template.Entries[2].Offset)
}

func TestBuildFromReadersDerivedIndices(t *testing.T) {
	c, err := catalog.BuildFromReaders(veniceFeed(t))
	require.NoError(t, err)

	route := c.Route(0)
	require.Len(t, route.StopTimesTemplates, 1)

	for i := 0; i < c.NumStops(); i++ {
		stop := c.Stop(catalog.StopID(i))
		assert.Contains(t, stop.RouteIDs, catalog.RouteID(0))
	}
}

func TestFindNearestStop(t *testing.T) {
	c, err := catalog.BuildFromReaders(veniceFeed(t))
	require.NoError(t, err)

	id, err := c.FindNearestStop(45.4337, 12.3388)
	require.NoError(t, err)
	assert.Equal(t, c.Stop(id).Name, "San Marco")
}

func TestStopsInRange(t *testing.T) {
	c, err := catalog.BuildFromReaders(veniceFeed(t))
	require.NoError(t, err)

	// 500m around Rialto should catch at least Rialto itself.
	stops := c.StopsInRange(45.4380, 12.3358, 500)
	var found bool
	for _, id := range stops {
		if c.Stop(id).Name == "Rialto" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNearStops(t *testing.T) {
	c, err := catalog.BuildFromReaders(veniceFeed(t))
	require.NoError(t, err)

	near := c.NearStops(45.4380, 12.3358, 2)
	require.Len(t, near, 2)

	// Memoised: same query returns the identical slice.
	again := c.NearStops(45.4380, 12.3358, 2)
	assert.Equal(t, near, again)
}

func TestIsTripActive(t *testing.T) {
	c, err := catalog.BuildFromReaders(veniceFeed(t))
	require.NoError(t, err)

	monday, err := gtfstime.FromDate("20260706")
	require.NoError(t, err)
	atDeparture := monday.WithTimeOfDay(8 * 3600)
	assert.True(t, c.IsTripActive(0, atDeparture))

	afterArrival := monday.WithTimeOfDay(8*3600 + 720 + 1)
	assert.False(t, c.IsTripActive(0, afterArrival))

	exceptionDay, err := gtfstime.FromDate("20260704")
	require.NoError(t, err)
	assert.False(t, c.IsTripActive(0, exceptionDay.WithTimeOfDay(8*3600)))
}

func TestTripAfterTime(t *testing.T) {
	c, err := catalog.BuildFromReaders(veniceFeed(t))
	require.NoError(t, err)

	monday, err := gtfstime.FromDate("20260706")
	require.NoError(t, err)

	trip := c.Trip(0)
	template := c.StopTimes(trip.StopTimesID)
	rialto := template.Entries[1].StopID

	found, idx, ok := c.TripAfterTime(
		[]catalog.TripID{0},
		rialto,
		monday.WithTimeOfDay(8*3600),
		0,
		trip.StopTimesID,
		nil,
	)
	require.True(t, ok)
	assert.Equal(t, catalog.TripID(0), found)
	assert.Equal(t, 1, idx)

	_, _, ok = c.TripAfterTime(
		[]catalog.TripID{0},
		rialto,
		monday.WithTimeOfDay(8*3600),
		0,
		trip.StopTimesID,
		map[catalog.TripID]bool{0: true},
	)
	assert.False(t, ok)
}
