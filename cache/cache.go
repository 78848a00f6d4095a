// Package cache persists a catalog.Data to disk as a directory of gob
// files, and loads it back without re-running GTFS ingestion. Shapes
// are stored as encoded polylines rather than raw float64 pairs, since
// they are by far the largest part of a typical feed.
package cache

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	polyline "github.com/twpayne/go-polyline"

	"transitnav.dev/gtfs/catalog"
)

// MaxAge is how old a cache directory may be before Load refuses it.
// The format carries no version negotiation: a stale or incompatible
// directory is rebuilt wholesale, not migrated.
const MaxAge = 24 * time.Hour

// ErrStale is returned by Load when the cache directory's marker is
// older than MaxAge. Callers should rebuild via catalog.BuildFromReaders
// and Save over it.
var ErrStale = errors.New("cache: directory is stale")

// ErrMissing is returned by Load when the directory has no marker file,
// i.e. it was never populated by Save.
var ErrMissing = errors.New("cache: directory has not been populated")

const markerFile = "built_at"

// Save writes data to dir as one gob file per entity kind, plus a
// marker file recording when the directory was built. Any existing
// contents of dir are overwritten.
func Save(dir string, data catalog.Data) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache: creating %s: %w", dir, err)
	}

	if err := writeGob(filepath.Join(dir, "stops"), data.Stops); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, "routes"), data.Routes); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, "trips"), data.Trips); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, "stop_times"), data.StopTimes); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, "services"), data.Services); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, "shapes"), encodeShapes(data.Shapes)); err != nil {
		return err
	}
	if err := writeGob(filepath.Join(dir, "walk_times"), data.WalkTimes); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, markerFile), []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		return fmt.Errorf("cache: writing marker: %w", err)
	}

	return nil
}

// Load reads a previously Save'd directory and builds a Catalog from
// it. It returns ErrMissing if dir was never populated, or ErrStale if
// the marker is older than MaxAge; in both cases the caller is
// expected to rebuild from a live feed and Save the result.
func Load(dir string) (*catalog.Catalog, error) {
	builtAt, err := readMarker(dir)
	if err != nil {
		return nil, err
	}
	if time.Since(builtAt) > MaxAge {
		return nil, fmt.Errorf("%w: built at %s", ErrStale, builtAt.Format(time.RFC3339))
	}

	var data catalog.Data

	if err := readGob(filepath.Join(dir, "stops"), &data.Stops); err != nil {
		return nil, err
	}
	if err := readGob(filepath.Join(dir, "routes"), &data.Routes); err != nil {
		return nil, err
	}
	if err := readGob(filepath.Join(dir, "trips"), &data.Trips); err != nil {
		return nil, err
	}
	if err := readGob(filepath.Join(dir, "stop_times"), &data.StopTimes); err != nil {
		return nil, err
	}
	if err := readGob(filepath.Join(dir, "services"), &data.Services); err != nil {
		return nil, err
	}
	var encodedShapes []encodedShape
	if err := readGob(filepath.Join(dir, "shapes"), &encodedShapes); err != nil {
		return nil, err
	}
	shapes, err := decodeShapes(encodedShapes)
	if err != nil {
		return nil, err
	}
	data.Shapes = shapes
	if err := readGob(filepath.Join(dir, "walk_times"), &data.WalkTimes); err != nil {
		return nil, err
	}

	c, err := catalog.Build(data)
	if err != nil {
		return nil, fmt.Errorf("cache: building catalog from %s: %w", dir, err)
	}
	return c, nil
}

func readMarker(dir string) (time.Time, error) {
	raw, err := os.ReadFile(filepath.Join(dir, markerFile))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, ErrMissing
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: reading marker: %w", err)
	}
	builtAt, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("cache: parsing marker: %w", err)
	}
	return builtAt, nil
}

// encodedShape is the on-disk form of a catalog.Shape: its points
// packed into a single polyline-encoded byte string instead of a
// []float64 pair per point.
type encodedShape struct {
	ID      catalog.ShapeID
	Encoded []byte
}

func encodeShapes(shapes []catalog.Shape) []encodedShape {
	out := make([]encodedShape, len(shapes))
	for i, s := range shapes {
		coords := make([][]float64, len(s.Points))
		for j, p := range s.Points {
			coords[j] = []float64{p.Lat, p.Lon}
		}
		out[i] = encodedShape{ID: s.ID, Encoded: polyline.EncodeCoords(coords)}
	}
	return out
}

func decodeShapes(encoded []encodedShape) ([]catalog.Shape, error) {
	out := make([]catalog.Shape, len(encoded))
	for i, e := range encoded {
		coords, remaining, err := polyline.DecodeCoords(e.Encoded)
		if err != nil {
			return nil, fmt.Errorf("cache: decoding shape %d polyline: %w", e.ID, err)
		}
		if len(remaining) > 0 {
			return nil, fmt.Errorf("cache: shape %d polyline has trailing bytes", e.ID)
		}
		points := make([]catalog.ShapePoint, len(coords))
		for j, c := range coords {
			points[j] = catalog.ShapePoint{Lat: c[0], Lon: c[1]}
		}
		out[i] = catalog.Shape{ID: e.ID, Points: points}
	}
	return out, nil
}

func writeGob(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cache: creating %s: %w", path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("cache: encoding %s: %w", path, err)
	}
	return nil
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cache: opening %s: %w", path, err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("cache: decoding %s: %w", path, err)
	}
	return nil
}
