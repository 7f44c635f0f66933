package redirect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/turnstile/pkg/auth"
)

func TestRedirect(t *testing.T) {
	tests := []struct {
		name     string
		strategy *Strategy
		wantURL  string
		wantCode int
	}{
		{
			name:     "plain",
			strategy: &Strategy{LoginURL: "https://sso.example.com/login"},
			wantURL:  "https://sso.example.com/login",
			wantCode: http.StatusFound,
		},
		{
			name:     "with return parameter",
			strategy: &Strategy{LoginURL: "https://sso.example.com/login?app=x", ReturnParam: "next", Status: http.StatusSeeOther},
			wantURL:  "https://sso.example.com/login?app=x&next=%2Freports%3Fid%3D1",
			wantCode: http.StatusSeeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := auth.NewRegistry()
			reg.MustRegister("sso", tt.strategy)

			r := httptest.NewRequest("GET", "/reports?id=1", nil)
			result := auth.New(reg).Dispatch(context.Background(), r, []string{"sso"}, nil)

			if result.Kind != auth.Redirected {
				t.Fatalf("Kind = %v, want redirected", result.Kind)
			}
			if result.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", result.URL, tt.wantURL)
			}
			if result.Status != tt.wantCode {
				t.Errorf("Status = %d, want %d", result.Status, tt.wantCode)
			}
		})
	}
}

func TestRedirect_BadLoginURL(t *testing.T) {
	s := &Strategy{LoginURL: "://bad", ReturnParam: "next"}
	out := s.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil), nil)
	if out.Kind != auth.OutcomeError {
		t.Errorf("Kind = %v, want error", out.Kind)
	}
}
