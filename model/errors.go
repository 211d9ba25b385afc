package model

import "errors"

// Caller-visible failure classes. Wrap them with fmt.Errorf("...: %w") and
// match with errors.Is.
var (
	// ErrInvalidInput rejects a source URL before any external process runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrAcquisitionFailed means the media download failed; retrying the whole prepare is safe.
	ErrAcquisitionFailed = errors.New("acquisition failed")
	// ErrNotFound covers unknown, expired and evicted track ids.
	ErrNotFound = errors.New("track not found")
	// ErrRangeNotSatisfiable is returned for malformed or out-of-bounds byte ranges.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	// ErrSuperseded is returned when a newer prepare from the same client won.
	ErrSuperseded = errors.New("prepare superseded by a newer request")
)
