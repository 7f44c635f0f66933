// Package transport provides the HTTP plumbing shared by the turnstile
// gateway: a net/http middleware chain, panic recovery, request IDs
// (X-Request-ID), access logging via log/slog, and the JSON error
// envelope written for failed requests.
//
// The authentication middleware itself lives in pkg/auth; this package
// knows nothing about identities or strategies.
package transport
