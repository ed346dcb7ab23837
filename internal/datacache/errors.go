package datacache

import "errors"

var (
	// ErrNotFound is returned when the key is absent or its entry expired.
	ErrNotFound = errors.New("dataset not found in cache")

	// ErrEmptyKey is returned when a caller passes an empty cache key.
	ErrEmptyKey = errors.New("cache key must not be empty")
)
