package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	switch c.Session.Store {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("session.store must be \"memory\" or \"postgres\", got %q", c.Session.Store))
	}
	if c.Session.Store == "postgres" && c.Session.Postgres.DSN == "" && c.Session.Postgres.DSNFile == "" {
		errs = append(errs, fmt.Errorf("session.postgres.dsn or session.postgres.dsn_file is required when session.store is \"postgres\""))
	}

	names := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		path := fmt.Sprintf("strategies[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		} else if names[s.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is declared twice", path, s.Name))
		}
		names[s.Name] = true
		errs = append(errs, s.validate(path)...)
	}

	for i, r := range c.Routes {
		path := fmt.Sprintf("routes[%d]", i)
		if !strings.HasPrefix(r.Path, "/") {
			errs = append(errs, fmt.Errorf("%s.path must start with \"/\", got %q", path, r.Path))
		}
		if len(r.Strategies) == 0 {
			errs = append(errs, fmt.Errorf("%s.strategies must not be empty", path))
		}
		for _, name := range r.Strategies {
			if !names[name] {
				errs = append(errs, fmt.Errorf("%s.strategies: unknown strategy %q", path, name))
			}
		}
		if r.Upstream != "" {
			if u, err := url.Parse(r.Upstream); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s.upstream must be an absolute URL, got %q", path, r.Upstream))
			}
		}
		if r.Options.RememberReturnTo && r.Options.FailureRedirect == "" {
			errs = append(errs, fmt.Errorf("%s.options.remember_return_to requires failure_redirect", path))
		}
	}

	for tier, rpm := range c.RateLimit.Tiers {
		if rpm < 0 {
			errs = append(errs, fmt.Errorf("rate_limit.tiers.%s must be >= 0, got %d", tier, rpm))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		// valid, see debug.ParseLevel
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of trace, debug, info, warn, error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (s StrategyConfig) validate(path string) []error {
	var errs []error
	switch s.Type {
	case StrategyBasic, StrategyForm:
		if len(s.Users) == 0 {
			errs = append(errs, fmt.Errorf("%s.users must not be empty for type %q", path, s.Type))
		}
		for j, u := range s.Users {
			if u.Name == "" || (u.Password == "" && u.PasswordFile == "") {
				errs = append(errs, fmt.Errorf("%s.users[%d] needs a name and a password", path, j))
			}
		}
	case StrategyAPIKey:
		if len(s.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("%s.api_keys must not be empty", path))
		}
		for j, k := range s.APIKeys {
			if k.Subject == "" || (k.Key == "" && k.KeyFile == "") {
				errs = append(errs, fmt.Errorf("%s.api_keys[%d] needs a subject and a key", path, j))
			}
		}
	case StrategyJWT:
		if s.JWT.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("%s.jwt.jwks_url is required", path))
		}
	case StrategySignature:
		if len(s.Signature.AllowedKeys) == 0 {
			errs = append(errs, fmt.Errorf("%s.signature.allowed_keys must not be empty", path))
		}
	case StrategyRedirect:
		if s.Redirect.LoginURL == "" {
			errs = append(errs, fmt.Errorf("%s.redirect.login_url is required", path))
		}
	case StrategyAnonymous, StrategySession:
		// no settings
	default:
		errs = append(errs, fmt.Errorf("%s.type %q is not a known strategy type", path, s.Type))
	}
	return errs
}
