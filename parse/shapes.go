package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"transitnav.dev/gtfs/model"
	"transitnav.dev/gtfs/storage"
)

type ShapeCSV struct {
	ID           string  `csv:"shape_id"`
	Lat          float64 `csv:"shape_pt_lat"`
	Lon          float64 `csv:"shape_pt_lon"`
	Sequence     uint32  `csv:"shape_pt_sequence"`
	DistTraveled string  `csv:"shape_dist_traveled"`
}

// ParseShapes loads shapes.txt, writing one ShapePoint per row. Points
// are not required to arrive sorted by shape_pt_sequence; callers that
// need an ordered polyline get that from storage.FeedReader.ShapePoints
// once EndShapes has run.
func ParseShapes(writer storage.FeedWriter, data io.Reader) error {
	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(sp *ShapeCSV) error {
		i += 1
		if sp.ID == "" {
			return fmt.Errorf("empty shape_id (row %d)", i+1)
		}

		point := model.ShapePoint{
			ShapeID:  sp.ID,
			Lat:      sp.Lat,
			Lon:      sp.Lon,
			Sequence: sp.Sequence,
		}

		if sp.DistTraveled != "" {
			dist, err := parseShapeDistTraveled(sp.DistTraveled)
			if err != nil {
				return fmt.Errorf("parsing shape_dist_traveled (row %d): %w", i+1, err)
			}
			point.DistTraveled = dist
			point.DistTraveledIsSet = true
		}

		if err := writer.WriteShapePoint(point); err != nil {
			return fmt.Errorf("writing shape point (row %d): %w", i+1, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unmarshaling shapes csv: %w", err)
	}

	return nil
}

func parseShapeDistTraveled(s string) (float64, error) {
	var dist float64
	_, err := fmt.Sscanf(s, "%g", &dist)
	if err != nil {
		return 0, err
	}
	return dist, nil
}
