package session

import (
	"context"
	"net/http"

	"github.com/rhuss/turnstile/pkg/auth"
)

// Strategy authenticates requests from the login stored in the session.
// Without a logged in session it fails without a challenge, so that the
// next strategy in the list is tried.
func (m *Manager) Strategy() auth.Strategy {
	return auth.StrategyFunc(func(_ context.Context, r *http.Request, _ *auth.Options) auth.Outcome {
		id, err := m.Identity(r)
		if err != nil {
			return auth.Error(err)
		}
		if id == nil {
			return auth.Fail("", 0)
		}
		return auth.Success(id, nil)
	})
}
