// Package anonymous provides a strategy that lets a request continue
// without an identity.
//
// Listed last, it turns a route into one where authentication is
// optional: earlier strategies still get the chance to identify the
// caller, and their challenges are discarded when nobody does.
package anonymous

import (
	"context"
	"net/http"

	"github.com/rhuss/turnstile/pkg/auth"
)

// Strategy always passes.
type Strategy struct{}

func (Strategy) Authenticate(_ context.Context, _ *http.Request, _ *auth.Options) auth.Outcome {
	return auth.Pass()
}
