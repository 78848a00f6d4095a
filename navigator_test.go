package gtfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	gtfslib "transitnav.dev/gtfs"
	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/gtfstime"
	"transitnav.dev/gtfs/model"
	"transitnav.dev/gtfs/storage"
)

func straightLineCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	s := storage.NewMemoryStorage()
	w, err := s.GetWriter("line")
	require.NoError(t, err)

	require.NoError(t, w.WriteStop(model.Stop{ID: "a", Name: "A", Lat: 45.0, Lon: 12.0}))
	require.NoError(t, w.WriteStop(model.Stop{ID: "b", Name: "B", Lat: 45.01, Lon: 12.0}))
	require.NoError(t, w.WriteRoute(model.Route{ID: "r1", ShortName: "1"}))
	require.NoError(t, w.WriteCalendar(model.Calendar{ServiceID: "daily", StartDate: "20260101", EndDate: "20261231", Weekday: 0x7f}))

	require.NoError(t, w.BeginShapes())
	require.NoError(t, w.WriteShapePoint(model.ShapePoint{ShapeID: "sh1", Sequence: 0, Lat: 45.0, Lon: 12.0}))
	require.NoError(t, w.WriteShapePoint(model.ShapePoint{ShapeID: "sh1", Sequence: 1, Lat: 45.01, Lon: 12.0}))
	require.NoError(t, w.EndShapes())

	require.NoError(t, w.BeginTrips())
	require.NoError(t, w.WriteTrip(model.Trip{ID: "t1", RouteID: "r1", ServiceID: "daily", ShapeID: "sh1"}))
	require.NoError(t, w.EndTrips())

	require.NoError(t, w.BeginStopTimes())
	require.NoError(t, w.WriteStopTime(model.StopTime{TripID: "t1", StopID: "a", StopSequence: 0, Arrival: "080000", Departure: "080000"}))
	require.NoError(t, w.WriteStopTime(model.StopTime{TripID: "t1", StopID: "b", StopSequence: 1, Arrival: "080500", Departure: "080500"}))
	require.NoError(t, w.EndStopTimes())

	require.NoError(t, w.Close())

	r, err := s.GetReader("line")
	require.NoError(t, err)
	c, err := catalog.BuildFromReaders(r)
	require.NoError(t, err)
	return c
}

func TestNavigatorFindJourneys(t *testing.T) {
	c := straightLineCatalog(t)
	n := gtfslib.NewNavigator(c)

	departure, err := gtfstime.FromDate("20260706")
	require.NoError(t, err)
	departure = departure.WithTimeOfDay(7 * 3600)

	journeys, err := n.FindJourneys(gtfslib.FindJourneysQuery{
		FromLat: 45.0, FromLng: 12.0,
		ToLat: 45.01, ToLng: 12.0,
		DepartureEpoch: departure.Epoch(),
		MaxTransfers:   1,
		K:              1,
	})
	require.NoError(t, err)
	require.Len(t, journeys, 1)
}

func TestNavigatorTripPosition(t *testing.T) {
	c := straightLineCatalog(t)
	n := gtfslib.NewNavigator(c)

	ip, err := n.TripPosition(0)
	require.NoError(t, err)

	pos := ip.PositionAt(8 * 3600)
	require.InDelta(t, 45.0, pos.Lat, 1e-6)
	require.InDelta(t, 12.0, pos.Lon, 1e-6)
}
