package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)
