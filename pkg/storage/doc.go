// Package storage holds what the session store adapters share: the
// sentinel errors that callers match with errors.Is.
//
// Adapters (memory, postgres) implement the session.Store interface
// defined in pkg/session.
package storage
