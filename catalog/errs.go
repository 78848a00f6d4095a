package catalog

import "errors"

// Sentinel errors, per the error taxonomy shared by catalog and
// planner. Wrap with fmt.Errorf("...: %w", ErrX) and unwrap with
// errors.Is.
var (
	// ErrInvalidInput covers unparseable dates, negative transfer
	// counts, k == 0 and similar caller mistakes.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound covers "no stop within a reasonable radius" and
	// similar lookups that legitimately come back empty.
	ErrNotFound = errors.New("not found")

	// ErrNoSolution means labelling completed without reaching any
	// destination stop. This is reported, not treated as a failure.
	ErrNoSolution = errors.New("no solution")
)
