// Package walkdistance loads a precomputed stop_distances_by_walk.txt
// file (produced externally, typically by a routing HTTP API) and
// turns it into catalog.StopWalkTime records ready for
// catalog.Catalog.SetWalkTimes. It does not compute distances itself.
package walkdistance

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"transitnav.dev/gtfs/catalog"
)

// SnapRadiusMeters is how far a file-stop may be from its nearest
// Catalog stop and still be matched to it. Stops farther than this
// are dropped rather than guessed at.
const SnapRadiusMeters = 30.0

const earthRadiusMeters = 6_371_000.0

func haversineMeters(aLat, aLon, bLat, bLon float64) float64 {
	aLatRad := aLat * math.Pi / 180
	aLonRad := aLon * math.Pi / 180
	bLatRad := bLat * math.Pi / 180
	bLonRad := bLon * math.Pi / 180
	deltaLat := aLatRad - bLatRad
	deltaLon := aLonRad - bLonRad

	a := math.Cos(aLatRad)*math.Cos(bLatRad)*math.Pow(math.Sin(deltaLon/2), 2) + math.Pow(math.Sin(deltaLat/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * earthRadiusMeters
}

// Load parses the stop_distances_by_walk.txt format:
//
//	N;K
//	lat;lng               (N times, 1-based file stop id order)
//	id d1_id d1_dist ...  (N times, up to K neighbor pairs)
//
// Each file-stop is snapped to its nearest Catalog stop. File-stops
// farther than SnapRadiusMeters from any Catalog stop, and neighbor
// references that fail to snap, are dropped; the rest become
// catalog.StopWalkTime entries keyed by Catalog stop id.
func Load(r io.Reader, c *catalog.Catalog) ([]catalog.StopWalkTime, error) {
	scanner := bufio.NewScanner(r)

	n, _, err := readHeader(scanner)
	if err != nil {
		return nil, err
	}

	fileStops := make([]struct{ lat, lon float64 }, n)
	for i := 0; i < n; i++ {
		lat, lon, err := readLatLon(scanner)
		if err != nil {
			return nil, fmt.Errorf("walkdistance: reading stop %d coordinates: %w", i+1, err)
		}
		fileStops[i] = struct{ lat, lon float64 }{lat, lon}
	}

	snapped := make([]catalog.StopID, n)
	matched := make([]bool, n)
	for i, fs := range fileStops {
		id, err := c.FindNearestStop(fs.lat, fs.lon)
		if err != nil {
			continue
		}
		stop := c.Stop(id)
		if haversineMeters(fs.lat, fs.lon, stop.Lat, stop.Lon) <= SnapRadiusMeters {
			snapped[i] = id
			matched[i] = true
		}
	}

	byStop := map[catalog.StopID][]catalog.WalkNeighbor{}
	for i := 0; i < n; i++ {
		fields, err := readNeighborRow(scanner)
		if err != nil {
			return nil, fmt.Errorf("walkdistance: reading neighbor row %d: %w", i+1, err)
		}
		if !matched[i] {
			continue
		}
		fromID := snapped[i]

		for j := 1; j+1 < len(fields); j += 2 {
			neighborFileID, err := strconv.Atoi(fields[j])
			if err != nil {
				return nil, fmt.Errorf("walkdistance: neighbor row %d: bad neighbor id %q: %w", i+1, fields[j], err)
			}
			meters, err := strconv.ParseFloat(fields[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("walkdistance: neighbor row %d: bad distance %q: %w", i+1, fields[j+1], err)
			}

			neighborIndex := neighborFileID - 1
			if neighborIndex < 0 || neighborIndex >= n || !matched[neighborIndex] {
				continue
			}
			toID := snapped[neighborIndex]
			if toID == fromID {
				continue
			}
			byStop[fromID] = append(byStop[fromID], catalog.WalkNeighbor{StopID: toID, Meters: meters})
		}
	}

	out := make([]catalog.StopWalkTime, 0, len(byStop))
	for stopID, neighbors := range byStop {
		out = append(out, catalog.StopWalkTime{StopID: stopID, Neighbors: neighbors})
	}
	return out, nil
}

func readHeader(scanner *bufio.Scanner) (n, k int, err error) {
	if !scanner.Scan() {
		return 0, 0, fmt.Errorf("walkdistance: missing header line: %w", scanErr(scanner))
	}
	parts := strings.SplitN(scanner.Text(), ";", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("walkdistance: malformed header %q", scanner.Text())
	}
	n, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("walkdistance: bad stop count in header: %w", err)
	}
	k, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("walkdistance: bad k in header: %w", err)
	}
	return n, k, nil
}

func readLatLon(scanner *bufio.Scanner) (lat, lon float64, err error) {
	if !scanner.Scan() {
		return 0, 0, scanErr(scanner)
	}
	parts := strings.SplitN(scanner.Text(), ";", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed coordinate line %q", scanner.Text())
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad latitude: %w", err)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad longitude: %w", err)
	}
	return lat, lon, nil
}

func readNeighborRow(scanner *bufio.Scanner) ([]string, error) {
	if !scanner.Scan() {
		return nil, scanErr(scanner)
	}
	return strings.Fields(scanner.Text()), nil
}

func scanErr(scanner *bufio.Scanner) error {
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
