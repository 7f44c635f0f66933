package auth

import (
	"errors"
	"net/http"

	"github.com/rhuss/turnstile/pkg/observability"
	"github.com/rhuss/turnstile/pkg/transport"
)

// Flash kinds used when neither the options nor the outcome name one.
const (
	KindSuccess = "success"
	KindError   = "error"
)

// Middleware creates HTTP middleware that dispatches the named strategies
// for every request and applies the result.
func (a *Authenticator) Middleware(names []string, opts Options) func(http.Handler) http.Handler {
	names = append([]string(nil), names...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := a.Dispatch(r.Context(), r, names, &opts)
			a.Apply(w, r, next, result, &opts)
		})
	}
}

// Apply performs the observable effect of a dispatch result: it proceeds
// to next, writes a challenge response, redirects, or hands an error to
// the ErrorHandler. Exactly one of those happens.
func (a *Authenticator) Apply(w http.ResponseWriter, r *http.Request, next http.Handler, result Result, opts *Options) {
	if opts == nil {
		opts = &Options{}
	}

	switch result.Kind {
	case Authenticated:
		a.applySuccess(w, r, next, result, opts)
	case Denied:
		a.applyDenied(w, r, result, opts)
	case Redirected:
		redirect(w, result.URL, result.Status)
	case Deferred:
		next.ServeHTTP(w, r)
	case Failed:
		a.logger.Error("authentication error",
			"path", r.URL.Path,
			"strategy", result.Strategy,
			"error", result.Err,
		)
		a.errorHandler(w, r, result.Err)
	default:
		a.errorHandler(w, r, ErrNoOutcome)
	}
}

func (a *Authenticator) applySuccess(w http.ResponseWriter, r *http.Request, next http.Handler, result Result, opts *Options) {
	id := result.Identity
	if id == nil || id.Subject == "" {
		a.logger.Error("strategy returned identity with empty subject", "strategy", result.Strategy)
		a.errorHandler(w, r, &StrategyError{Strategy: result.Strategy, Err: errors.New("empty identity subject")})
		return
	}

	a.logger.Debug("authentication succeeded",
		"subject", id.Subject,
		"strategy", result.Strategy,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)

	if a.limiter != nil {
		if err := a.limiter.Allow(r.Context(), id); err != nil {
			a.logger.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.ServiceTier)
			observability.RateLimitRejectedTotal.WithLabelValues(tierLabel(id)).Inc()
			transport.WriteError(w, transport.NewTooManyRequestsError("rate limit exceeded"))
			return
		}
	}

	var infoMsg, infoType string
	if result.Info != nil {
		infoMsg, infoType = result.Info.Message, result.Info.Type
	}
	a.notify(w, r, opts.SuccessFlash, infoMsg, infoType, KindSuccess)
	a.notify(w, r, opts.SuccessMessage, infoMsg, infoType, KindSuccess)

	if opts.AssignProperty != "" {
		next.ServeHTTP(w, r.WithContext(SetIdentityAt(r.Context(), opts.AssignProperty, id)))
		return
	}

	r = r.WithContext(SetIdentity(r.Context(), id))

	if opts.Session {
		if a.recorder == nil {
			a.errorHandler(w, r, errors.New("session login requested but no login recorder configured"))
			return
		}
		if err := a.recorder.Login(w, r, id); err != nil {
			a.errorHandler(w, r, err)
			return
		}
	}

	if opts.SuccessReturnToOrRedirect != "" {
		url := opts.SuccessReturnToOrRedirect
		if rt, ok := a.recorder.(ReturnToStore); ok {
			if remembered := rt.TakeReturnTo(w, r); remembered != "" {
				url = remembered
			}
		}
		redirect(w, url, http.StatusFound)
		return
	}

	if opts.SuccessRedirect != "" {
		redirect(w, opts.SuccessRedirect, http.StatusFound)
		return
	}

	next.ServeHTTP(w, r)
}

func (a *Authenticator) applyDenied(w http.ResponseWriter, r *http.Request, result Result, opts *Options) {
	a.logger.Warn("authentication failed",
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
		"status", result.Status,
		"challenges", len(result.Challenges),
		"error", result.Err,
	)

	if opts.FailWithError {
		a.errorHandler(w, r, &AuthenticationError{
			Status:     result.Status,
			Challenges: result.Challenges,
			Reason:     result.Err,
		})
		return
	}

	if opts.FailureRedirect != "" {
		// Only the first challenge is flashed, never the aggregate.
		var first Challenge
		if len(result.Challenges) > 0 {
			first = result.Challenges[0]
		}
		a.notify(w, r, opts.FailureFlash, first.Text(), first.Type, KindError)
		a.notify(w, r, opts.FailureMessage, first.Text(), first.Type, KindError)
		redirect(w, opts.FailureRedirect, http.StatusFound)
		return
	}

	for _, c := range result.Challenges {
		if c.Header != "" {
			w.Header().Add("WWW-Authenticate", c.Header)
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(result.Status)
	w.Write([]byte(http.StatusText(result.Status)))
}

// notify writes a message to the sink when n is enabled. The fixed text
// of n wins over the outcome message; nothing is written if both are empty.
func (a *Authenticator) notify(w http.ResponseWriter, r *http.Request, n *Notice, outcomeMsg, outcomeType, fallbackKind string) {
	if n == nil || a.messages == nil {
		return
	}
	msg := n.Text
	if msg == "" {
		msg = outcomeMsg
	}
	if msg == "" {
		return
	}
	kind := n.Type
	if kind == "" {
		kind = outcomeType
	}
	if kind == "" {
		kind = fallbackKind
	}
	if err := a.messages.Write(w, r, kind, msg); err != nil {
		a.logger.Warn("writing flash message failed", "kind", kind, "error", err)
	}
}

// redirect sets Location and the status without writing a body.
func redirect(w http.ResponseWriter, url string, status int) {
	if status == 0 {
		status = http.StatusFound
	}
	w.Header().Set("Location", url)
	w.WriteHeader(status)
}

func tierLabel(id *Identity) string {
	if id.ServiceTier == "" {
		return "default"
	}
	return id.ServiceTier
}

// defaultErrorHandler writes a JSON error envelope. Denials raised with
// FailWithError keep their status and challenges.
func defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		for _, c := range authErr.Challenges {
			if c.Header != "" {
				w.Header().Add("WWW-Authenticate", c.Header)
			}
		}
		transport.WriteErrorStatus(w, transport.NewUnauthorizedError("authentication required"), authErr.Status)
		return
	}
	transport.WriteError(w, transport.NewServerError("internal authentication error"))
}
