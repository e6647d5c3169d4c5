package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotFound indicates a missing session transcript, extraction record,
	// project or memory snapshot.
	ErrNotFound = goerr.New("not found")

	// ErrMalformed indicates an unparsable transcript, or completion output
	// that failed schema validation after all repair attempts.
	ErrMalformed = goerr.New("malformed input")

	// ErrExtractionFailed marks a session whose extraction exhausted its
	// retry budget. Terminal per session, never fatal to a batch.
	ErrExtractionFailed = goerr.New("extraction failed")

	// ErrNoExtractions is returned when consolidation is invoked for a
	// project with zero valid extraction records.
	ErrNoExtractions = goerr.New("no extraction records")

	// ErrLocked is returned when another consolidation run holds the
	// project's writer lock.
	ErrLocked = goerr.New("project memory is locked")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsLocked reports whether err is (or wraps) ErrLocked.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}
