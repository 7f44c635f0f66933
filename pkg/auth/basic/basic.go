// Package basic authenticates username and password credentials against
// a static user table, either from an HTTP Basic Authorization header or
// from the fields of a submitted login form.
package basic

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/turnstile/pkg/auth"
)

var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrMalformed          = errors.New("malformed basic credentials")
)

// User is one entry of the user table.
type User struct {
	Name        string
	Password    string
	ServiceTier string
	Scopes      []string
}

type entry struct {
	digest [32]byte
	user   User
}

// FormFields names the form fields read by a form login strategy.
type FormFields struct {
	Username string
	Password string
}

// Strategy checks credentials with a constant-time comparison of
// password digests.
type Strategy struct {
	realm string
	form  *FormFields
	users map[string]entry
}

// New creates a strategy that reads the Authorization header.
func New(realm string, users []User) *Strategy {
	s := &Strategy{realm: realm, users: make(map[string]entry, len(users))}
	for _, u := range users {
		s.users[u.Name] = entry{digest: sha256.Sum256([]byte(u.Password)), user: u}
	}
	return s
}

// NewForm creates a strategy that reads credentials from a POSTed form.
// Empty field names default to "username" and "password".
func NewForm(fields FormFields, users []User) *Strategy {
	if fields.Username == "" {
		fields.Username = "username"
	}
	if fields.Password == "" {
		fields.Password = "password"
	}
	s := New("", users)
	s.form = &fields
	return s
}

func (s *Strategy) Authenticate(_ context.Context, r *http.Request, _ *auth.Options) auth.Outcome {
	if s.form != nil {
		return s.authenticateForm(r)
	}

	challenge := fmt.Sprintf("Basic realm=%q", s.realm)

	if r.Header.Get("Authorization") == "" {
		return auth.Fail(challenge, 0)
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		// Another scheme is fine, a broken Basic header is not.
		if hasBasicScheme(r.Header.Get("Authorization")) {
			return auth.FailWith(auth.Challenge{}, http.StatusBadRequest, ErrMalformed)
		}
		return auth.Fail(challenge, 0)
	}

	return s.verify(user, pass, auth.Challenge{Header: challenge, Message: "Incorrect username or password"})
}

func (s *Strategy) authenticateForm(r *http.Request) auth.Outcome {
	if r.Method != http.MethodPost {
		return auth.FailWith(auth.Challenge{Message: "Missing credentials"}, http.StatusBadRequest, nil)
	}
	user := r.PostFormValue(s.form.Username)
	pass := r.PostFormValue(s.form.Password)
	if user == "" || pass == "" {
		return auth.FailWith(auth.Challenge{Message: "Missing credentials"}, http.StatusBadRequest, nil)
	}
	return s.verify(user, pass, auth.Challenge{Message: "Incorrect username or password"})
}

func (s *Strategy) verify(user, pass string, challenge auth.Challenge) auth.Outcome {
	e, known := s.users[user]
	digest := sha256.Sum256([]byte(pass))
	if subtle.ConstantTimeCompare(digest[:], e.digest[:]) != 1 || !known {
		return auth.FailWith(challenge, 0, fmt.Errorf("user %q: %w", user, ErrInvalidCredentials))
	}

	return auth.Success(&auth.Identity{
		Subject:     e.user.Name,
		ServiceTier: e.user.ServiceTier,
		Scopes:      append([]string(nil), e.user.Scopes...),
		Metadata:    map[string]string{"strategy": "basic"},
	}, &auth.Info{Message: "Welcome " + e.user.Name})
}

func hasBasicScheme(h string) bool {
	const prefix = "Basic "
	return len(h) >= len(prefix) && strings.EqualFold(h[:len(prefix)], prefix)
}
