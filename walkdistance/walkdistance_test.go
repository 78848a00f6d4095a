package walkdistance_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/walkdistance"
)

func threeStopCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Build(catalog.Data{
		Stops: []catalog.Stop{
			{ID: 0, Name: "A", Lat: 45.0, Lon: 12.0},
			{ID: 1, Name: "B", Lat: 45.001, Lon: 12.0},
			{ID: 2, Name: "C", Lat: 46.0, Lon: 13.0},
		},
	})
	require.NoError(t, err)
	return c
}

// Two file-stops close enough to snap (to A and B); no file-stop lies
// within 30m of C, so C gets no walk times.
const fixture = `2;2
45.0;12.0
45.001;12.0
1 2 111.2
2 1 111.2
`

func TestLoadSnapsAndBuildsNeighbors(t *testing.T) {
	c := threeStopCatalog(t)

	walkTimes, err := walkdistance.Load(strings.NewReader(fixture), c)
	require.NoError(t, err)
	require.Len(t, walkTimes, 2)

	byStop := map[catalog.StopID][]catalog.WalkNeighbor{}
	for _, wt := range walkTimes {
		byStop[wt.StopID] = wt.Neighbors
	}

	require.Len(t, byStop[0], 1)
	assert.Equal(t, catalog.StopID(1), byStop[0][0].StopID)
	assert.InDelta(t, 111.2, byStop[0][0].Meters, 1e-6)

	require.Len(t, byStop[1], 1)
	assert.Equal(t, catalog.StopID(0), byStop[1][0].StopID)
}

const unmatchedFixture = `1;1
10.0;10.0
1
`

func TestLoadDropsUnmatchedStops(t *testing.T) {
	c := threeStopCatalog(t)

	walkTimes, err := walkdistance.Load(strings.NewReader(unmatchedFixture), c)
	require.NoError(t, err)
	assert.Empty(t, walkTimes)
}

func TestLoadMalformedHeader(t *testing.T) {
	c := threeStopCatalog(t)

	_, err := walkdistance.Load(strings.NewReader("not-a-header\n"), c)
	assert.Error(t, err)
}
