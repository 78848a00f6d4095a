package cache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitnav.dev/gtfs/cache"
	"transitnav.dev/gtfs/catalog"
)

func sampleData() catalog.Data {
	return catalog.Data{
		Stops: []catalog.Stop{
			{ID: 0, Name: "A", Lat: 45.0, Lon: 12.0},
			{ID: 1, Name: "B", Lat: 45.01, Lon: 12.0},
		},
		Routes: []catalog.Route{{ID: 0}},
		Shapes: []catalog.Shape{{
			ID: 0,
			Points: []catalog.ShapePoint{
				{Lat: 45.0, Lon: 12.0},
				{Lat: 45.005, Lon: 12.0},
				{Lat: 45.01, Lon: 12.0},
			},
		}},
		StopTimes: []catalog.StopTimes{{
			ID: 0,
			Entries: []catalog.StopTimeEntry{
				{StopID: 0, Offset: 0},
				{StopID: 1, Offset: 300},
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
		Services: []catalog.Service{},
		WalkTimes: []catalog.StopWalkTime{
			{StopID: 0, Neighbors: []catalog.WalkNeighbor{{StopID: 1, Meters: 1100}}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, cache.Save(dir, sampleData()))

	c, err := cache.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, c.NumStops())
	assert.Equal(t, 1, c.NumRoutes())
	assert.Equal(t, 1, c.NumTrips())

	shape := c.Shape(0)
	require.Len(t, shape.Points, 3)
	assert.InDelta(t, 45.0, shape.Points[0].Lat, 1e-4)
	assert.InDelta(t, 12.0, shape.Points[0].Lon, 1e-4)
	assert.InDelta(t, 45.01, shape.Points[2].Lat, 1e-4)

	walk := c.NearStopsByWalk(0)
	require.NotNil(t, walk)
	require.Len(t, walk.Neighbors, 1)
	assert.Equal(t, catalog.StopID(1), walk.Neighbors[0].StopID)
}

func TestLoadMissingDirectory(t *testing.T) {
	dir := t.TempDir()

	_, err := cache.Load(dir)
	assert.ErrorIs(t, err, cache.ErrMissing)
}

func TestLoadStaleDirectory(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, cache.Save(dir, sampleData()))

	old := time.Now().Add(-cache.MaxAge - time.Hour).Format(time.RFC3339)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "built_at"), []byte(old), 0o644))

	_, err := cache.Load(dir)
	assert.ErrorIs(t, err, cache.ErrStale)
}
