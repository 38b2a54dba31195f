package models

import "errors"

// Failure classes shared by the registry, the occupancy engine, storage and
// the batch driver. Callers compare with errors.Is.
var (
	// ErrNotConfigured means the location has no registry entry. The batch skips it.
	ErrNotConfigured = errors.New("location not configured")
	// ErrEmptySeries means the source has no data for the location and range. The batch skips it.
	ErrEmptySeries = errors.New("empty series")
	// ErrInvalidInput means the engine was handed data it cannot process. The location fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSinkFailure means writing the labels failed. The location fails.
	ErrSinkFailure = errors.New("sink failure")
)
