package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind int

const (
	// OutcomeSuccess means the strategy identified the caller. Dispatch stops.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeFail means the strategy could not authenticate the request.
	// Dispatch records the challenge and tries the next strategy.
	OutcomeFail

	// OutcomeRedirect sends the client elsewhere. Dispatch stops.
	OutcomeRedirect

	// OutcomePass means the strategy has no opinion and the request
	// should continue unauthenticated. Dispatch stops.
	OutcomePass

	// OutcomeError is an unrecoverable failure. Dispatch stops.
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFail:
		return "fail"
	case OutcomeRedirect:
		return "redirect"
	case OutcomePass:
		return "pass"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the single signal a strategy produces. Use the
// constructors below; only the fields of the tagged variant are set.
type Outcome struct {
	Kind OutcomeKind

	// Success
	Identity *Identity
	Info     *Info

	// Fail
	Challenge Challenge
	Reason    error

	// Fail and Redirect; zero means the default status.
	Status int

	// Redirect
	URL string

	// Error
	Err error
}

// Success reports an authenticated identity. info may be nil.
func Success(id *Identity, info *Info) Outcome {
	return Outcome{Kind: OutcomeSuccess, Identity: id, Info: info}
}

// Fail reports a failed attempt. challenge is an optional
// WWW-Authenticate value; status 0 keeps the default 401.
func Fail(challenge string, status int) Outcome {
	return Outcome{Kind: OutcomeFail, Challenge: Challenge{Header: challenge}, Status: status}
}

// FailWith reports a failed attempt with a structured challenge and the
// reason it failed. reason is only logged, never sent to the client.
func FailWith(challenge Challenge, status int, reason error) Outcome {
	return Outcome{Kind: OutcomeFail, Challenge: challenge, Status: status, Reason: reason}
}

// Redirect sends the client to url. status 0 means 302 Found.
func Redirect(url string, status int) Outcome {
	return Outcome{Kind: OutcomeRedirect, URL: url, Status: status}
}

// Pass declines to decide.
func Pass() Outcome {
	return Outcome{Kind: OutcomePass}
}

// Error reports an unrecoverable failure.
func Error(err error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// Signal is a one-shot outcome slot for strategies written in callback
// style. The first call to any of its methods records the outcome and
// returns true; every later call is ignored and returns false.
type Signal struct {
	once sync.Once
	ch   chan Outcome
}

func newSignal() *Signal {
	return &Signal{ch: make(chan Outcome, 1)}
}

// Send records o if no outcome has been recorded yet.
func (s *Signal) Send(o Outcome) bool {
	sent := false
	s.once.Do(func() {
		s.ch <- o
		sent = true
	})
	return sent
}

func (s *Signal) Success(id *Identity, info *Info) bool { return s.Send(Success(id, info)) }
func (s *Signal) Fail(challenge string, status int) bool { return s.Send(Fail(challenge, status)) }
func (s *Signal) Redirect(url string, status int) bool  { return s.Send(Redirect(url, status)) }
func (s *Signal) Pass() bool                            { return s.Send(Pass()) }
func (s *Signal) Error(err error) bool                  { return s.Send(Error(err)) }

// SignalStrategy is a strategy that reports its outcome through a Signal.
// AuthenticateSignal may block while it verifies credentials; it must
// signal before it returns.
type SignalStrategy interface {
	AuthenticateSignal(ctx context.Context, r *http.Request, opts *Options, sig *Signal)
}

// Async adapts a SignalStrategy to Strategy. The strategy runs on its own
// goroutine so that cancellation of ctx ends the wait. Returning without
// a signal yields an Error wrapping ErrNoOutcome; a panic yields an Error
// wrapping *PanicError.
func Async(s SignalStrategy) Strategy {
	return &asyncStrategy{inner: s}
}

type asyncStrategy struct {
	inner SignalStrategy
}

func (a *asyncStrategy) Authenticate(ctx context.Context, r *http.Request, opts *Options) Outcome {
	sig := newSignal()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				sig.Error(&PanicError{Value: p})
			}
		}()
		a.inner.AuthenticateSignal(ctx, r, opts, sig)
	}()

	select {
	case o := <-sig.ch:
		return o
	case <-done:
		// Signal is a no-op if the strategy already signaled.
		sig.Error(ErrNoOutcome)
		return <-sig.ch
	case <-ctx.Done():
		sig.Error(ctx.Err())
		return <-sig.ch
	}
}
