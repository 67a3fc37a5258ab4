package errors

import "errors"

// Config capability errors. Both surface to the caller as hard failures:
// no partial writes are performed once either is detected.
var (
	ErrConfigUnavailable = errors.New("config handle unavailable")
	ErrTypeMismatch      = errors.New("record type mismatch")
)

// Message-processing errors.
var (
	ErrInvalidMessage = errors.New("invalid control message")
	ErrIteratorClosed = errors.New("record iterator already closed")
)
