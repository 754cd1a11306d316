package store

import "errors"

var (
	// ErrNotFound is returned when an item doesn't exist or has expired.
	ErrNotFound = errors.New("arbor: item not found")

	// ErrAlreadyExists is returned by conditional puts when a non-expired
	// item already holds the primary key.
	ErrAlreadyExists = errors.New("arbor: item already exists")

	// ErrPreconditionFailed is returned when a conditional update or
	// floored decrement finds state that doesn't match the expectation.
	ErrPreconditionFailed = errors.New("arbor: precondition failed")

	// ErrValidation is returned for malformed input caught before any
	// storage call is made.
	ErrValidation = errors.New("arbor: invalid input")

	// ErrUnavailable is returned when the underlying store keeps failing
	// after bounded retries, or an operation timed out.
	ErrUnavailable = errors.New("arbor: storage unavailable")

	// ErrBadCursor is returned when a pagination cursor cannot be decoded.
	ErrBadCursor = errors.New("arbor: malformed pagination cursor")
)
