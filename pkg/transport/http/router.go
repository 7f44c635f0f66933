package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/turnstile/pkg/auth"
	"github.com/rhuss/turnstile/pkg/debug"
	"github.com/rhuss/turnstile/pkg/observability"
	"github.com/rhuss/turnstile/pkg/session"
	"github.com/rhuss/turnstile/pkg/transport"
)

// Headers set on proxied requests from the authenticated identity.
// Client supplied values are always removed first.
const (
	SubjectHeader = "X-Turnstile-Subject"
	TierHeader    = "X-Turnstile-Tier"
	ScopesHeader  = "X-Turnstile-Scopes"
	TenantHeader  = "X-Turnstile-Tenant"
)

// Route protects one path with an ordered strategy list.
type Route struct {
	// Path is a chi pattern. A trailing slash matches the whole subtree.
	Path string

	// Methods restricts the route. Empty means every method.
	Methods []string

	Strategies []string
	Options    auth.Options

	// RememberReturnTo stores the requested URL in the session when the
	// request is denied and sent to Options.FailureRedirect.
	RememberReturnTo bool

	// Upstream receives the request after authentication. When nil the
	// route answers with the identity as JSON.
	Upstream *url.URL
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig holds the gateway routing table.
type RouterConfig struct {
	Routes []Route

	// MetricsPath serves Prometheus metrics. Empty disables the endpoint.
	MetricsPath string

	// Health is checked by /healthz. Nil always reports ok.
	Health HealthChecker
}

// Router serves the configured routes behind the authenticator.
type Router struct {
	mux      chi.Router
	authn    *auth.Authenticator
	sessions *session.Manager
	logger   *slog.Logger
}

// NewRouter builds the chi router. sessions may be nil when no route
// uses login sessions; /logout and /flash are then not mounted.
func NewRouter(authn *auth.Authenticator, sessions *session.Manager, cfg RouterConfig, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		mux:      chi.NewRouter(),
		authn:    authn,
		sessions: sessions,
		logger:   logger,
	}

	rt.mux.Use(
		transport.Chain(
			transport.Recovery(logger),
			transport.RequestID(),
			transport.Logging(logger),
		),
		observability.MetricsMiddleware,
	)
	if sessions != nil {
		rt.mux.Use(sessions.Middleware)
	}

	rt.mux.Get("/healthz", rt.handleHealth(cfg.Health))
	if cfg.MetricsPath != "" {
		rt.mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	if sessions != nil {
		rt.mux.Get("/logout", rt.handleLogout)
		rt.mux.Post("/logout", rt.handleLogout)
		rt.mux.Get("/flash", rt.handleFlash)
	}

	for i, route := range cfg.Routes {
		if err := rt.mount(route); err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, route.Path, err)
		}
	}

	rt.mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteError(w, transport.NewNotFoundError("no route for "+r.URL.Path))
	})
	rt.mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteErrorStatus(w, transport.NewInvalidRequestError(r.Method+" not allowed on "+r.URL.Path), http.StatusMethodNotAllowed)
	})

	return rt, nil
}

// Handler returns the http.Handler serving every route.
func (rt *Router) Handler() http.Handler {
	return rt.mux
}

func (rt *Router) mount(route Route) error {
	if !strings.HasPrefix(route.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	if len(route.Strategies) == 0 {
		return auth.ErrNoStrategies
	}

	var target http.Handler = http.HandlerFunc(whoami(route.Options.AssignProperty))
	if route.Upstream != nil {
		target = rt.proxy(route)
	}
	h := rt.protect(route, target)

	pattern := route.Path
	if strings.HasSuffix(pattern, "/") {
		pattern += "*"
	}
	debug.Log("transport", "route mounted",
		"pattern", pattern,
		"methods", route.Methods,
		"strategies", route.Strategies,
		"upstream", route.Upstream != nil,
	)
	if len(route.Methods) == 0 {
		rt.mux.Handle(pattern, h)
		return nil
	}
	for _, m := range route.Methods {
		rt.mux.Method(strings.ToUpper(m), pattern, h)
	}
	return nil
}

// protect wraps next with the authenticator. Routes remembering the
// requested URL split dispatch and apply so that the URL is stored
// before the failure redirect is written.
func (rt *Router) protect(route Route, next http.Handler) http.Handler {
	names := append([]string(nil), route.Strategies...)
	if !route.RememberReturnTo || rt.sessions == nil {
		return rt.authn.Middleware(names, route.Options)(next)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts := route.Options
		result := rt.authn.Dispatch(r.Context(), r, names, &opts)
		if result.Kind == auth.Denied && opts.FailureRedirect != "" && !opts.FailWithError {
			if err := rt.sessions.RememberReturnTo(w, r, r.URL.RequestURI()); err != nil {
				rt.logger.Warn("remembering return URL failed", "path", r.URL.Path, "error", err)
			}
		}
		rt.authn.Apply(w, r, next, result, &opts)
	})
}

func (rt *Router) proxy(route Route) http.Handler {
	target := route.Upstream
	property := route.Options.AssignProperty
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			for _, h := range []string{SubjectHeader, TierHeader, ScopesHeader, TenantHeader} {
				pr.Out.Header.Del(h)
			}
			if id := routeIdentity(pr.In.Context(), property); id != nil {
				setIdentityHeaders(pr.Out.Header, id)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			rt.logger.Warn("upstream request failed",
				"upstream", target.String(),
				"path", r.URL.Path,
				"error", err,
			)
			transport.WriteError(w, transport.NewBadGatewayError("upstream unavailable"))
		},
	}
}

func setIdentityHeaders(h http.Header, id *auth.Identity) {
	h.Set(SubjectHeader, id.Subject)
	if id.ServiceTier != "" {
		h.Set(TierHeader, id.ServiceTier)
	}
	if len(id.Scopes) > 0 {
		h.Set(ScopesHeader, strings.Join(id.Scopes, " "))
	}
	if tenant := id.TenantID(); tenant != "" {
		h.Set(TenantHeader, tenant)
	}
}

func routeIdentity(ctx context.Context, property string) *auth.Identity {
	if property != "" {
		return auth.IdentityAt(ctx, property)
	}
	return auth.IdentityFromContext(ctx)
}

// whoamiResponse is the body of routes without an upstream.
type whoamiResponse struct {
	Authenticated bool           `json:"authenticated"`
	Identity      *auth.Identity `json:"identity,omitempty"`
}

func whoami(property string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := routeIdentity(r.Context(), property)
		writeJSON(w, http.StatusOK, whoamiResponse{Authenticated: id != nil, Identity: id})
	}
}

func (rt *Router) handleHealth(hc HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hc != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := hc.HealthCheck(ctx); err != nil {
				rt.logger.Warn("health check failed", "error", err)
				transport.WriteErrorStatus(w, transport.NewServerError("session store unavailable"), http.StatusServiceUnavailable)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleLogout ends the session. A local "next" path turns the answer
// into a redirect.
func (rt *Router) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := rt.sessions.Logout(w, r); err != nil {
		rt.logger.Error("logout failed", "error", err)
		transport.WriteError(w, transport.NewServerError("logout failed"))
		return
	}
	if next := r.URL.Query().Get("next"); isLocalPath(next) {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type flashResponse struct {
	Flashes []session.Flash `json:"flashes"`
}

func (rt *Router) handleFlash(w http.ResponseWriter, r *http.Request) {
	flashes, err := rt.sessions.ConsumeFlashes(w, r)
	if err != nil {
		rt.logger.Error("reading flash messages failed", "error", err)
		transport.WriteError(w, transport.NewServerError("reading flash messages failed"))
		return
	}
	if flashes == nil {
		flashes = []session.Flash{}
	}
	writeJSON(w, http.StatusOK, flashResponse{Flashes: flashes})
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
