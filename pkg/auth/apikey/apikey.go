// Package apikey provides a strategy that validates bearer API keys
// against a static key store using SHA-256 hashing and constant-time
// comparison.
package apikey

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

// ErrInvalidKey is the failure reason for a bearer token that matches no key.
var ErrInvalidKey = errors.New("invalid API key")

// DefaultRealm is used in the challenge when no realm is configured.
const DefaultRealm = "turnstile"

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Strategy validates bearer tokens against a static key store.
type Strategy struct {
	realm string
	keys  []KeyEntry
}

// New creates an API key strategy from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not stored.
func New(realm string, entries []RawKeyEntry) *Strategy {
	if realm == "" {
		realm = DefaultRealm
	}
	s := &Strategy{realm: realm}
	for _, e := range entries {
		s.keys = append(s.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return s
}

// Authenticate extracts the bearer token and validates it. A missing or
// non-bearer Authorization header fails with a bare Bearer challenge so
// that other strategies in the list still get their turn.
func (s *Strategy) Authenticate(_ context.Context, r *http.Request, _ *auth.Options) auth.Outcome {
	challenge := fmt.Sprintf("Bearer realm=%q", s.realm)

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return auth.Fail(challenge, 0)
	}

	invalid := auth.Challenge{
		Header:  challenge + `, error="invalid_token"`,
		Message: "Invalid API key",
	}
	if token == "" {
		return auth.FailWith(invalid, 0, ErrInvalidKey)
	}

	tokenHash := sha256.Sum256([]byte(token))
	for _, entry := range s.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], entry.KeyHash[:]) == 1 {
			// Copy identity to avoid shared state.
			id := entry.Identity
			id.Metadata = copyMetadata(entry.Identity.Metadata)
			if id.Metadata == nil {
				id.Metadata = make(map[string]string, 1)
			}
			id.Metadata["strategy"] = "apikey"
			return auth.Success(&id, nil)
		}
	}

	return auth.FailWith(invalid, 0, ErrInvalidKey)
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
