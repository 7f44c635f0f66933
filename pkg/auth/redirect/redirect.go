// Package redirect provides a strategy that sends unauthenticated
// clients to an external login page.
package redirect

import (
	"context"
	"net/http"
	"net/url"

	"github.com/rhuss/turnstile/pkg/auth"
)

// Strategy redirects to a login URL. When ReturnParam is set, the
// original request URL is appended to the login URL under that query
// parameter.
type Strategy struct {
	LoginURL    string
	ReturnParam string
	Status      int
}

func (s *Strategy) Authenticate(_ context.Context, r *http.Request, _ *auth.Options) auth.Outcome {
	target := s.LoginURL
	if s.ReturnParam != "" {
		u, err := url.Parse(s.LoginURL)
		if err != nil {
			return auth.Error(err)
		}
		q := u.Query()
		q.Set(s.ReturnParam, r.URL.RequestURI())
		u.RawQuery = q.Encode()
		target = u.String()
	}
	return auth.Redirect(target, s.Status)
}
