package position_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/position"
)

func straightLineCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()

	c, err := catalog.Build(catalog.Data{
		Stops: []catalog.Stop{
			{ID: 0, Name: "A", Lat: 0, Lon: 0},
			{ID: 1, Name: "B", Lat: 0, Lon: 0.01},
		},
		Routes: []catalog.Route{{ID: 0}},
		Shapes: []catalog.Shape{{
			ID: 0,
			Points: []catalog.ShapePoint{
				{Lat: 0, Lon: 0},
				{Lat: 0, Lon: 0.005},
				{Lat: 0, Lon: 0.01},
			},
		}},
		StopTimes: []catalog.StopTimes{{
			ID: 0,
			Entries: []catalog.StopTimeEntry{
				{StopID: 0, Offset: 0},
				{StopID: 1, Offset: 600},
			},
		}},
		Trips: []catalog.Trip{{
			ID:          0,
			RouteID:     0,
			ShapeID:     0,
			StopTimesID: 0,
			ServiceID:   catalog.NoService,
			Start:       8 * 3600,
		}},
	})
	require.NoError(t, err)
	return c
}

func TestPositionAtEndpoints(t *testing.T) {
	c := straightLineCatalog(t)

	ip, err := position.Build(c, 0)
	require.NoError(t, err)

	start := ip.PositionAt(8 * 3600)
	assert.InDelta(t, 0, start.Lat, 1e-6)
	assert.InDelta(t, 0, start.Lon, 1e-6)

	end := ip.PositionAt(8*3600 + 600)
	assert.InDelta(t, 0, end.Lat, 1e-6)
	assert.InDelta(t, 0.01, end.Lon, 1e-6)
}

func TestPositionAtMidpoint(t *testing.T) {
	c := straightLineCatalog(t)

	ip, err := position.Build(c, 0)
	require.NoError(t, err)

	mid := ip.PositionAt(8*3600 + 300)
	assert.InDelta(t, 0.005, mid.Lon, 1e-3)
}

func TestBuildRejectsMissingShape(t *testing.T) {
	data := catalog.Data{
		Stops:     []catalog.Stop{{ID: 0, Name: "A"}, {ID: 1, Name: "B"}},
		Routes:    []catalog.Route{{ID: 0}},
		StopTimes: []catalog.StopTimes{{ID: 0, Entries: []catalog.StopTimeEntry{{StopID: 0}, {StopID: 1, Offset: 1}}}},
		Trips: []catalog.Trip{{
			ID: 0, RouteID: 0, ShapeID: catalog.NoShape, StopTimesID: 0, ServiceID: catalog.NoService,
		}},
	}
	noShapeCatalog, err := catalog.Build(data)
	require.NoError(t, err)

	_, err = position.Build(noShapeCatalog, 0)
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)
}
