package auth

import (
	"context"
	"net/http"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string `json:"subject"`

	// ServiceTier determines rate limits.
	ServiceTier string `json:"service_tier,omitempty"`

	// Scopes lists the authorization scopes granted.
	Scopes []string `json:"scopes,omitempty"`

	// Metadata carries strategy-specific data, e.g. "tenant_id" or "strategy".
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TenantID returns the tenant identifier from metadata, or empty string.
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata["tenant_id"]
}

// Clone returns a deep copy of id. A nil identity clones to nil.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	out := *id
	out.Scopes = append([]string(nil), id.Scopes...)
	if id.Metadata != nil {
		out.Metadata = make(map[string]string, len(id.Metadata))
		for k, v := range id.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// Info is optional metadata attached to a successful authentication.
// Message and Type feed the success flash when it is enabled without a
// fixed text.
type Info struct {
	Message string
	Type    string
	Extra   map[string]any
}

// Challenge describes how a client should authenticate. Header is a
// WWW-Authenticate value; Message and Type form a structured message used
// for flashing. A challenge built from a plain string sets only Header,
// which then also serves as the message.
type Challenge struct {
	Header  string
	Message string
	Type    string
}

// IsZero reports whether the challenge carries nothing.
func (c Challenge) IsZero() bool {
	return c.Header == "" && c.Message == "" && c.Type == ""
}

// Text returns the human readable message of the challenge.
func (c Challenge) Text() string {
	if c.Message != "" {
		return c.Message
	}
	return c.Header
}

// Notice enables a flash or session message. An empty Text means the
// message is taken from the outcome (success info or failure challenge).
// An empty Type falls back to the outcome type, then to "success" or
// "error".
type Notice struct {
	Type string
	Text string
}

// Options configures one dispatch. Options are request scoped and are
// never modified by the dispatcher or the strategies.
type Options struct {
	// SuccessRedirect redirects after a successful authentication
	// instead of calling the next handler.
	SuccessRedirect string

	// SuccessReturnToOrRedirect redirects to the URL remembered by the
	// session (see ReturnToStore), falling back to this value.
	SuccessReturnToOrRedirect string

	SuccessFlash   *Notice
	SuccessMessage *Notice

	// AssignProperty stores the identity under this context slot and
	// proceeds, skipping login, flashes and redirects.
	AssignProperty string

	FailureRedirect string
	FailureFlash    *Notice
	FailureMessage  *Notice

	// Session records the login through the LoginRecorder.
	Session bool

	// FailWithError hands denials to the ErrorHandler as an
	// *AuthenticationError instead of writing a 401 response.
	FailWithError bool

	// Scope carries strategy-specific per-call settings.
	Scope map[string]string
}

// Strategy authenticates a request using one mechanism. Implementations
// must return exactly one Outcome and must not modify opts.
type Strategy interface {
	Authenticate(ctx context.Context, r *http.Request, opts *Options) Outcome
}

// StrategyFunc adapts an ordinary function to the Strategy interface.
type StrategyFunc func(ctx context.Context, r *http.Request, opts *Options) Outcome

// Authenticate calls f(ctx, r, opts).
func (f StrategyFunc) Authenticate(ctx context.Context, r *http.Request, opts *Options) Outcome {
	return f(ctx, r, opts)
}

// LoginRecorder persists an authenticated identity for future requests.
type LoginRecorder interface {
	Login(w http.ResponseWriter, r *http.Request, id *Identity) error
}

// ReturnToStore is optionally implemented by a LoginRecorder that
// remembers where the client wanted to go before it was sent to log in.
// TakeReturnTo returns and forgets that URL.
type ReturnToStore interface {
	TakeReturnTo(w http.ResponseWriter, r *http.Request) string
}

// MessageSink stores one-time messages for a later stage of the pipeline.
type MessageSink interface {
	Write(w http.ResponseWriter, r *http.Request, kind, message string) error
}

// ErrorHandler receives fatal dispatch errors and denials raised with
// FailWithError.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
