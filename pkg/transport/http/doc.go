// Package http serves the turnstile gateway: a chi router that mounts
// each configured route behind the authenticator, forwards authenticated
// requests to an upstream or answers with the identity, and exposes the
// health, metrics, logout and flash endpoints. Server manages the
// listener lifecycle and graceful shutdown.
package http
