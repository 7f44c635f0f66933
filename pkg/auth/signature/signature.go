// Package signature authenticates requests signed with a secp256k1 key.
//
// The client sends its hex encoded public key in the Proxy-ID header and
// a hex encoded signature over the raw request body in Proxy-Signature.
// Only allow-listed public keys are accepted. The body is restored after
// verification so later handlers can read it.
package signature

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	p2pcrypto "github.com/libp2p/go-libp2p-crypto"

	"github.com/rhuss/turnstile/pkg/auth"
)

const (
	IDHeader        = "Proxy-ID"
	SignatureHeader = "Proxy-Signature"

	// Scheme is the challenge announced when the headers are missing.
	Scheme = "Proxy-Signature"
)

var (
	ErrUnknownKey       = errors.New("public key not allowed")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrBodyTooLarge     = errors.New("request body too large to verify")
)

// DefaultMaxBodySize bounds the body read for verification.
const DefaultMaxBodySize = 10 << 20

// Strategy verifies request signatures against allowed public keys.
type Strategy struct {
	allowed     map[string]p2pcrypto.PubKey
	maxBodySize int64
}

// New parses the allowed hex encoded compressed secp256k1 public keys.
func New(allowedIDs []string, maxBodySize int64) (*Strategy, error) {
	if len(allowedIDs) == 0 {
		return nil, errors.New("no allowed public keys configured")
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}

	s := &Strategy{allowed: make(map[string]p2pcrypto.PubKey, len(allowedIDs)), maxBodySize: maxBodySize}
	for _, id := range allowedIDs {
		id = strings.ToLower(strings.TrimSpace(id))
		raw, err := hex.DecodeString(id)
		if err != nil {
			return nil, fmt.Errorf("decoding public key %q: %w", id, err)
		}
		pub, err := p2pcrypto.UnmarshalSecp256k1PublicKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing public key %q: %w", id, err)
		}
		s.allowed[id] = pub
	}
	return s, nil
}

func (s *Strategy) Authenticate(_ context.Context, r *http.Request, _ *auth.Options) auth.Outcome {
	id := strings.ToLower(r.Header.Get(IDHeader))
	sigHex := r.Header.Get(SignatureHeader)
	if id == "" || sigHex == "" {
		return auth.Fail(Scheme, 0)
	}

	pub, ok := s.allowed[id]
	if !ok {
		return auth.FailWith(auth.Challenge{Header: Scheme, Message: "Unknown signing key"}, http.StatusForbidden, ErrUnknownKey)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return auth.FailWith(auth.Challenge{Header: Scheme}, http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}

	body, err := s.readBody(r)
	if err != nil {
		if errors.Is(err, ErrBodyTooLarge) {
			return auth.FailWith(auth.Challenge{Header: Scheme}, http.StatusRequestEntityTooLarge, err)
		}
		return auth.Error(fmt.Errorf("reading request body: %w", err))
	}

	valid, err := pub.Verify(body, sig)
	if err != nil || !valid {
		if err == nil {
			err = ErrInvalidSignature
		} else {
			err = fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return auth.FailWith(auth.Challenge{Header: Scheme, Message: "Invalid signature"}, 0, err)
	}

	return auth.Success(&auth.Identity{
		Subject:  id,
		Metadata: map[string]string{"strategy": "signature"},
	}, nil)
}

// readBody reads the body and replaces it with an in-memory copy.
func (s *Strategy) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBodySize+1))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if int64(len(body)) > s.maxBodySize {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// Sign adds the signature headers for body to r. It is the client side
// of the strategy, used by tools and tests.
func Sign(r *http.Request, priv p2pcrypto.PrivKey, body []byte) error {
	raw, err := priv.GetPublic().Raw()
	if err != nil {
		return err
	}
	sig, err := priv.Sign(body)
	if err != nil {
		return err
	}
	r.Header.Set(IDHeader, hex.EncodeToString(raw))
	r.Header.Set(SignatureHeader, hex.EncodeToString(sig))
	return nil
}
