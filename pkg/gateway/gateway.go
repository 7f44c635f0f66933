// Package gateway assembles a running turnstile gateway from a loaded
// configuration: the session store, the strategy registry, the
// authenticator and the HTTP router.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rhuss/turnstile/pkg/auth"
	"github.com/rhuss/turnstile/pkg/auth/anonymous"
	"github.com/rhuss/turnstile/pkg/auth/apikey"
	"github.com/rhuss/turnstile/pkg/auth/basic"
	"github.com/rhuss/turnstile/pkg/auth/jwt"
	"github.com/rhuss/turnstile/pkg/auth/redirect"
	"github.com/rhuss/turnstile/pkg/auth/signature"
	"github.com/rhuss/turnstile/pkg/config"
	"github.com/rhuss/turnstile/pkg/session"
	"github.com/rhuss/turnstile/pkg/storage/memory"
	"github.com/rhuss/turnstile/pkg/storage/postgres"
	transporthttp "github.com/rhuss/turnstile/pkg/transport/http"
)

// Gateway owns the components built from a Config.
type Gateway struct {
	Router   *transporthttp.Router
	Sessions *session.Manager

	store  session.Store
	stop   context.CancelFunc
	logger *slog.Logger
}

// New builds the gateway. Close releases the session store.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := OpenStore(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}

	janitorCtx, stop := context.WithCancel(context.Background())
	g := &Gateway{store: store, stop: stop, logger: logger}
	if pg, ok := store.(*postgres.Store); ok {
		go pg.RunJanitor(janitorCtx, cfg.Session.Postgres.CleanupInterval)
	}

	g.Sessions = session.NewManager(store, session.Config{
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.Secure,
		TTL:        cfg.Session.TTL,
	}, logger)

	registry, err := BuildRegistry(cfg, g.Sessions)
	if err != nil {
		g.Close()
		return nil, err
	}

	opts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithLoginRecorder(g.Sessions),
		auth.WithMessageSink(g.Sessions),
	}
	if limiter := RateLimiter(cfg.RateLimit); limiter != nil {
		opts = append(opts, auth.WithRateLimiter(limiter))
	}
	authn := auth.New(registry, opts...)

	routes, err := BuildRoutes(cfg)
	if err != nil {
		g.Close()
		return nil, err
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	g.Router, err = transporthttp.NewRouter(authn, g.Sessions, transporthttp.RouterConfig{
		Routes:      routes,
		MetricsPath: metricsPath,
		Health:      store,
	}, logger)
	if err != nil {
		g.Close()
		return nil, err
	}

	logger.Info("gateway ready",
		"strategies", registry.Names(),
		"routes", len(routes),
		"session_store", cfg.Session.Store,
	)
	return g, nil
}

// Handler returns the HTTP handler of the gateway.
func (g *Gateway) Handler() http.Handler {
	return g.Router.Handler()
}

// Close stops background work and closes the session store.
func (g *Gateway) Close() error {
	g.stop()
	return g.store.Close()
}

// OpenStore creates the configured session store.
func OpenStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return memory.New(cfg.MaxSize), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MigrateOnStart:  cfg.Postgres.MigrateOnStart,
			CleanupInterval: cfg.Postgres.CleanupInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// BuildRegistry registers one strategy per configured entry.
func BuildRegistry(cfg *config.Config, sessions *session.Manager) (*auth.Registry, error) {
	reg := auth.NewRegistry()
	for _, sc := range cfg.Strategies {
		s, err := buildStrategy(sc, sessions)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", sc.Name, err)
		}
		if err := reg.Register(sc.Name, s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildStrategy(sc config.StrategyConfig, sessions *session.Manager) (auth.Strategy, error) {
	switch sc.Type {
	case config.StrategyBasic:
		return basic.New(sc.Realm, users(sc.Users)), nil

	case config.StrategyForm:
		return basic.NewForm(basic.FormFields{
			Username: sc.Form.UsernameField,
			Password: sc.Form.PasswordField,
		}, users(sc.Users)), nil

	case config.StrategyAPIKey:
		entries := make([]apikey.RawKeyEntry, 0, len(sc.APIKeys))
		for _, k := range sc.APIKeys {
			id := auth.Identity{Subject: k.Subject, ServiceTier: k.ServiceTier}
			if k.TenantID != "" {
				id.Metadata = map[string]string{"tenant_id": k.TenantID}
			}
			entries = append(entries, apikey.RawKeyEntry{Key: k.Key, Identity: id})
		}
		return apikey.New(sc.Realm, entries), nil

	case config.StrategyJWT:
		return jwt.New(jwt.Config{
			Realm:       sc.Realm,
			Issuer:      sc.JWT.Issuer,
			Audience:    sc.JWT.Audience,
			JWKSURL:     sc.JWT.JWKSURL,
			UserClaim:   sc.JWT.UserClaim,
			TenantClaim: sc.JWT.TenantClaim,
			ScopesClaim: sc.JWT.ScopesClaim,
			TierClaim:   sc.JWT.TierClaim,
			CacheTTL:    sc.JWT.CacheTTL,
		}), nil

	case config.StrategySignature:
		return signature.New(sc.Signature.AllowedKeys, sc.Signature.MaxBodySize)

	case config.StrategyAnonymous:
		return anonymous.Strategy{}, nil

	case config.StrategyRedirect:
		return &redirect.Strategy{
			LoginURL:    sc.Redirect.LoginURL,
			ReturnParam: sc.Redirect.ReturnParam,
			Status:      sc.Redirect.Status,
		}, nil

	case config.StrategySession:
		if sessions == nil {
			return nil, fmt.Errorf("session strategy needs a session manager")
		}
		return sessions.Strategy(), nil

	default:
		return nil, fmt.Errorf("unknown strategy type %q", sc.Type)
	}
}

func users(in []config.UserConfig) []basic.User {
	out := make([]basic.User, 0, len(in))
	for _, u := range in {
		out = append(out, basic.User{
			Name:        u.Name,
			Password:    u.Password,
			ServiceTier: u.ServiceTier,
			Scopes:      u.Scopes,
		})
	}
	return out
}

// BuildRoutes converts the configured routes.
func BuildRoutes(cfg *config.Config) ([]transporthttp.Route, error) {
	routes := make([]transporthttp.Route, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		route := transporthttp.Route{
			Path:             rc.Path,
			Methods:          rc.Methods,
			Strategies:       rc.Strategies,
			Options:          routeOptions(rc.Options),
			RememberReturnTo: rc.Options.RememberReturnTo,
		}
		if rc.Upstream != "" {
			u, err := url.Parse(rc.Upstream)
			if err != nil {
				return nil, fmt.Errorf("routes[%d].upstream: %w", i, err)
			}
			route.Upstream = u
		}
		routes = append(routes, route)
	}
	return routes, nil
}

func routeOptions(o config.RouteOptions) auth.Options {
	return auth.Options{
		SuccessRedirect:           o.SuccessRedirect,
		SuccessReturnToOrRedirect: o.SuccessReturnToOrRedirect,
		SuccessFlash:              notice(o.SuccessFlash),
		SuccessMessage:            notice(o.SuccessMessage),
		AssignProperty:            o.AssignProperty,
		FailureRedirect:           o.FailureRedirect,
		FailureFlash:              notice(o.FailureFlash),
		FailureMessage:            notice(o.FailureMessage),
		Session:                   o.Session,
		FailWithError:             o.FailWithError,
		Scope:                     o.Scope,
	}
}

func notice(n *config.NoticeConfig) *auth.Notice {
	if n == nil {
		return nil
	}
	return &auth.Notice{Type: n.Type, Text: n.Text}
}

// RateLimiter returns the in-process limiter, or nil when disabled.
func RateLimiter(cfg config.RateLimitConfig) auth.RateLimiter {
	if !cfg.Enabled {
		return nil
	}
	tiers := make(map[string]auth.TierConfig, len(cfg.Tiers))
	for name, rpm := range cfg.Tiers {
		tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
	}
	return auth.NewInProcessLimiter(tiers, cfg.DefaultRPM)
}
