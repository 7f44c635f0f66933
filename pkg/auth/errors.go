package auth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	ErrUnknownStrategy = errors.New("unknown authentication strategy")
	ErrNoStrategies    = errors.New("no authentication strategies configured")
	ErrNoOutcome       = errors.New("strategy returned without an outcome")
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// StrategyError wraps an Error outcome, or a panic, raised by a strategy.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %q: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// PanicError carries the value recovered from a panicking strategy.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// AuthenticationError is the error form of a Denied result, passed to the
// ErrorHandler when Options.FailWithError is set.
type AuthenticationError struct {
	Status     int
	Challenges []Challenge

	// Reason aggregates the failure reasons reported by the strategies.
	Reason error
}

func (e *AuthenticationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrUnauthenticated.Error())
	if e.Reason != nil {
		b.WriteString(": ")
		b.WriteString(e.Reason.Error())
	}
	return b.String()
}

// Is makes errors.Is(err, ErrUnauthenticated) hold for denials.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrUnauthenticated
}

func (e *AuthenticationError) Unwrap() error { return e.Reason }
