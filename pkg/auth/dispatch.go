package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/rhuss/turnstile/pkg/debug"
	"github.com/rhuss/turnstile/pkg/observability"
)

// ResultKind is the final disposition of a dispatch.
type ResultKind int

const (
	Authenticated ResultKind = iota
	Denied
	Redirected
	Deferred
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case Authenticated:
		return "authenticated"
	case Denied:
		return "denied"
	case Redirected:
		return "redirected"
	case Deferred:
		return "deferred"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal value of one dispatch. It is consumed by Apply
// and is not meant to be stored.
type Result struct {
	Kind ResultKind

	// Strategy names the strategy that decided the result. Empty for Denied.
	Strategy string

	// Authenticated
	Identity *Identity
	Info     *Info

	// Denied: non-empty challenges in strategy order.
	Challenges []Challenge

	// Denied and Redirected.
	Status int

	// Redirected
	URL string

	// Denied: aggregated failure reasons (nil if no strategy gave one).
	// Failed: the fatal cause.
	Err error
}

// Authenticator runs strategies from a Registry and applies the results.
// It holds no per-request state and is safe for concurrent use.
type Authenticator struct {
	registry     *Registry
	logger       *slog.Logger
	recorder     LoginRecorder
	messages     MessageSink
	errorHandler ErrorHandler
	limiter      RateLimiter
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithLoginRecorder sets the collaborator used when Options.Session is set.
func WithLoginRecorder(r LoginRecorder) Option {
	return func(a *Authenticator) { a.recorder = r }
}

// WithMessageSink sets the flash message sink.
func WithMessageSink(m MessageSink) Option {
	return func(a *Authenticator) { a.messages = m }
}

// WithErrorHandler sets the handler for fatal errors.
func WithErrorHandler(h ErrorHandler) Option {
	return func(a *Authenticator) { a.errorHandler = h }
}

// WithRateLimiter enables rate limiting of authenticated identities.
func WithRateLimiter(l RateLimiter) Option {
	return func(a *Authenticator) { a.limiter = l }
}

// New creates an Authenticator over the given registry.
func New(registry *Registry, opts ...Option) *Authenticator {
	a := &Authenticator{
		registry:     registry,
		logger:       slog.Default(),
		errorHandler: defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dispatch tries the named strategies in order and returns the final
// disposition. It never writes to a response.
func (a *Authenticator) Dispatch(ctx context.Context, r *http.Request, names []string, opts *Options) Result {
	if opts == nil {
		opts = &Options{}
	}
	result := a.dispatch(ctx, r, names, opts)
	observability.DispatchTotal.WithLabelValues(result.Kind.String()).Inc()
	return result
}

func (a *Authenticator) dispatch(ctx context.Context, r *http.Request, names []string, opts *Options) Result {
	if len(names) == 0 {
		return Result{Kind: Failed, Err: ErrNoStrategies}
	}

	var (
		challenges []Challenge
		reasons    []error
		status     = http.StatusUnauthorized
	)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return Result{Kind: Failed, Err: err}
		}

		strategy, ok := a.registry.Lookup(name)
		if !ok {
			return Result{Kind: Failed, Strategy: name, Err: &StrategyError{Strategy: name, Err: ErrUnknownStrategy}}
		}

		outcome := a.invoke(ctx, name, strategy, r, opts)
		debug.Log("auth", "strategy outcome",
			"strategy", name,
			"outcome", outcome.Kind.String(),
			"path", r.URL.Path,
		)

		switch outcome.Kind {
		case OutcomeSuccess:
			return Result{Kind: Authenticated, Strategy: name, Identity: outcome.Identity, Info: outcome.Info}

		case OutcomeRedirect:
			code := outcome.Status
			if code == 0 {
				code = http.StatusFound
			}
			return Result{Kind: Redirected, Strategy: name, URL: outcome.URL, Status: code}

		case OutcomePass:
			return Result{Kind: Deferred, Strategy: name}

		case OutcomeFail:
			if !outcome.Challenge.IsZero() {
				challenges = append(challenges, outcome.Challenge)
			}
			if outcome.Status != 0 {
				status = outcome.Status
			}
			if outcome.Reason != nil {
				reasons = append(reasons, &StrategyError{Strategy: name, Err: outcome.Reason})
			}

		case OutcomeError:
			return Result{Kind: Failed, Strategy: name, Err: &StrategyError{Strategy: name, Err: outcome.Err}}

		default:
			return Result{Kind: Failed, Strategy: name, Err: &StrategyError{Strategy: name, Err: ErrNoOutcome}}
		}
	}

	return Result{
		Kind:       Denied,
		Challenges: challenges,
		Status:     status,
		Err:        utilerrors.NewAggregate(reasons),
	}
}

// invoke runs one strategy, converting a panic into an Error outcome and
// recording per-strategy metrics.
func (a *Authenticator) invoke(ctx context.Context, name string, s Strategy, r *http.Request, opts *Options) (outcome Outcome) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			a.logger.Error("strategy panicked", "strategy", name, "panic", p)
			outcome = Error(&PanicError{Value: p})
		}
		observability.StrategyOutcomesTotal.WithLabelValues(name, outcome.Kind.String()).Inc()
		observability.StrategyDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()
	return s.Authenticate(ctx, r, opts)
}
