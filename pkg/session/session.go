// Package session keeps logins, flash messages and return URLs in a
// server-side store, identified by a cookie.
//
// Manager implements the auth.LoginRecorder, auth.MessageSink and
// auth.ReturnToStore hooks. Its Strategy authenticates requests that
// carry the cookie of an earlier login.
package session

import (
	"context"
	"time"

	"github.com/rhuss/turnstile/pkg/auth"
)

// Flash is a one-time message stored for a later request.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Session is the server-side state behind one cookie.
type Session struct {
	ID string

	// Identity is set once the client logged in.
	Identity *auth.Identity

	Flashes  []Flash
	ReturnTo string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists sessions. Get returns storage.ErrNotFound for unknown
// or expired sessions. Save inserts or replaces.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
