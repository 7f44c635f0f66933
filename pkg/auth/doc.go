// Package auth is the authentication dispatcher of turnstile.
//
// A request is authenticated by running an ordered list of named
// strategies taken from a Registry. Each strategy produces exactly one
// Outcome: Success, Fail, Redirect, Pass or Error. The Authenticator
// walks the list strictly in order and stops at the first Success,
// Redirect, Pass or Error. Fail outcomes are aggregated: their
// challenges are collected in list order and the last explicit status
// code wins. When every strategy fails the request is Denied.
//
// Dispatch returns a Result without touching the response. Apply turns
// a Result into the observable effect (identity in the request context,
// login recording, flash messages, WWW-Authenticate challenges,
// redirects, or delegation to the next handler). Middleware combines
// both for use in an http.Handler chain.
//
// Sessions, flash storage and the error page are collaborators reached
// through the LoginRecorder, MessageSink and ErrorHandler hooks, so the
// package has no opinion about how they are stored.
package auth
