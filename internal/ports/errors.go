package ports

import "errors"

var (
	// ErrPortRangeExhausted is returned when every port in the candidate
	// range is already bound.
	ErrPortRangeExhausted = errors.New("no free port in the candidate range")

	// ErrNotAdvertised is returned when no valid advertisement exists for
	// a port. A stale advertisement from a dead process also reports this
	// after being cleaned up.
	ErrNotAdvertised = errors.New("no live instance advertised on port")
)
