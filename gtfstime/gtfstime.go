// Package gtfstime implements the Time Model: absolute instants on the
// continuous "seconds since service-day midnight" axis GTFS schedules are
// built on, plus the calendar arithmetic (weekday, service exceptions)
// every other component in this module relies on.
package gtfstime

import (
	"fmt"
	"time"
)

// GtfsTime is an absolute instant, always kept in UTC.
//
// GTFS stop_times can exceed 24h (a trip starting before and ending after
// midnight uses e.g. "25:30:00"). Callers must add such offsets to a
// trip's start instant with AddSeconds, never by re-deriving a
// wall-clock time of day, or the continuous axis breaks.
type GtfsTime struct {
	t time.Time
}

// infiniteYear anchors the sentinel "never happens" instant far enough in
// the future that it never compares less than a real schedule time.
const infiniteYear = 3000

// Infinite is the identity element for min-update operations: every real
// GtfsTime compares less than it.
func Infinite() GtfsTime {
	return GtfsTime{t: time.Date(infiniteYear, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// IsInfinite reports whether t is the Infinite sentinel.
func (g GtfsTime) IsInfinite() bool {
	return g.t.Year() >= infiniteYear
}

// FromEpoch builds a GtfsTime from epoch seconds (UTC).
func FromEpoch(epochSeconds int64) GtfsTime {
	return GtfsTime{t: time.Unix(epochSeconds, 0).UTC()}
}

// FromMidnight builds a GtfsTime anchored at today's UTC midnight, offset
// by secondsSinceMidnight seconds (which may be negative or exceed
// 86400).
func FromMidnight(secondsSinceMidnight int64) GtfsTime {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return GtfsTime{t: midnight.Add(time.Duration(secondsSinceMidnight) * time.Second)}
}

// FromDate parses a YYYYMMDD date into a GtfsTime at 00:00 UTC on that
// date. Fails with an invalid-input error on unparseable input.
func FromDate(yyyymmdd string) (GtfsTime, error) {
	d, err := time.ParseInLocation("20060102", yyyymmdd, time.UTC)
	if err != nil {
		return GtfsTime{}, fmt.Errorf("invalid date %q: %w", yyyymmdd, err)
	}
	return GtfsTime{t: d}, nil
}

// AddSeconds returns a new instant offset by seconds (may be negative).
func (g GtfsTime) AddSeconds(seconds int64) GtfsTime {
	return GtfsTime{t: g.t.Add(time.Duration(seconds) * time.Second)}
}

// midnight returns the UTC midnight that begins g's service day.
func (g GtfsTime) midnight() time.Time {
	return time.Date(g.t.Year(), g.t.Month(), g.t.Day(), 0, 0, 0, 0, time.UTC)
}

// SinceMidnight returns the continuous seconds-since-midnight offset of g,
// relative to its own date. Always non-negative for a GtfsTime built
// from FromMidnight/FromDate/WithTimeOfDay with a non-negative offset.
func (g GtfsTime) SinceMidnight() int64 {
	return int64(g.t.Sub(g.midnight()).Seconds())
}

// WithTimeOfDay replaces the time-of-day component, preserving g's date,
// with secondsSinceMidnight (continuous axis — may exceed 86400).
func (g GtfsTime) WithTimeOfDay(secondsSinceMidnight int64) GtfsTime {
	return GtfsTime{t: g.midnight().Add(time.Duration(secondsSinceMidnight) * time.Second)}
}

// WithDateFrom transfers the date of other onto g, preserving g's own
// time-of-day offset.
func (g GtfsTime) WithDateFrom(other GtfsTime) GtfsTime {
	return GtfsTime{t: other.midnight().Add(time.Duration(g.SinceMidnight()) * time.Second)}
}

// Date returns the YYYYMMDD date of g, in UTC.
func (g GtfsTime) Date() string {
	return g.t.Format("20060102")
}

// Weekday returns the day of week, Monday=0 ... Sunday=6.
func (g GtfsTime) Weekday() int {
	wd := int(g.t.Weekday()) // time.Sunday == 0
	return (wd + 6) % 7
}

// Epoch returns g as epoch seconds (UTC).
func (g GtfsTime) Epoch() int64 {
	return g.t.Unix()
}

// Before reports whether g happens strictly before o.
func (g GtfsTime) Before(o GtfsTime) bool {
	return g.t.Before(o.t)
}

// After reports whether g happens strictly after o.
func (g GtfsTime) After(o GtfsTime) bool {
	return g.t.After(o.t)
}

// Equal reports whether g and o are the same instant.
func (g GtfsTime) Equal(o GtfsTime) bool {
	return g.t.Equal(o.t)
}

// Min returns the earlier of g and o.
func Min(g, o GtfsTime) GtfsTime {
	if o.Before(g) {
		return o
	}
	return g
}

// Distance returns the absolute number of seconds between g and o.
func (g GtfsTime) Distance(o GtfsTime) int64 {
	d := g.t.Sub(o.t)
	if d < 0 {
		d = -d
	}
	return int64(d.Seconds())
}

func (g GtfsTime) String() string {
	if g.IsInfinite() {
		return "infinite"
	}
	return g.t.Format(time.RFC3339)
}
