package basic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rhuss/turnstile/pkg/auth"
)

var testUsers = []User{
	{Name: "alice", Password: "wonderland", ServiceTier: "gold", Scopes: []string{"read"}},
	{Name: "bob", Password: "builder"},
}

func TestBasic(t *testing.T) {
	s := New("gateway", testUsers)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantKind   auth.OutcomeKind
		wantHeader string
		wantStatus int
		wantReason error
	}{
		{
			name:     "valid",
			setup:    func(r *http.Request) { r.SetBasicAuth("alice", "wonderland") },
			wantKind: auth.OutcomeSuccess,
		},
		{
			name:       "missing header",
			setup:      func(r *http.Request) {},
			wantKind:   auth.OutcomeFail,
			wantHeader: `Basic realm="gateway"`,
		},
		{
			name:       "other scheme",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			wantKind:   auth.OutcomeFail,
			wantHeader: `Basic realm="gateway"`,
		},
		{
			name:       "wrong password",
			setup:      func(r *http.Request) { r.SetBasicAuth("alice", "looking-glass") },
			wantKind:   auth.OutcomeFail,
			wantHeader: `Basic realm="gateway"`,
			wantReason: ErrInvalidCredentials,
		},
		{
			name:       "unknown user",
			setup:      func(r *http.Request) { r.SetBasicAuth("mallory", "wonderland") },
			wantKind:   auth.OutcomeFail,
			wantHeader: `Basic realm="gateway"`,
			wantReason: ErrInvalidCredentials,
		},
		{
			name:       "malformed",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Basic !!!") },
			wantKind:   auth.OutcomeFail,
			wantStatus: http.StatusBadRequest,
			wantReason: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			tt.setup(r)

			out := s.Authenticate(context.Background(), r, &auth.Options{})

			if out.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v", out.Kind, tt.wantKind)
			}
			if out.Challenge.Header != tt.wantHeader {
				t.Errorf("challenge = %q, want %q", out.Challenge.Header, tt.wantHeader)
			}
			if out.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", out.Status, tt.wantStatus)
			}
			if tt.wantReason != nil && !errors.Is(out.Reason, tt.wantReason) {
				t.Errorf("Reason = %v, want %v", out.Reason, tt.wantReason)
			}
		})
	}
}

func TestBasic_Identity(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.SetBasicAuth("alice", "wonderland")

	out := New("gateway", testUsers).Authenticate(context.Background(), r, nil)

	if out.Identity.Subject != "alice" || out.Identity.ServiceTier != "gold" {
		t.Errorf("identity = %+v", out.Identity)
	}
	if len(out.Identity.Scopes) != 1 || out.Identity.Scopes[0] != "read" {
		t.Errorf("Scopes = %v", out.Identity.Scopes)
	}
	if out.Info == nil || out.Info.Message != "Welcome alice" {
		t.Errorf("Info = %+v", out.Info)
	}
}

func TestForm(t *testing.T) {
	s := NewForm(FormFields{}, testUsers)

	post := func(values url.Values) auth.Outcome {
		r := httptest.NewRequest("POST", "/login", strings.NewReader(values.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return s.Authenticate(context.Background(), r, nil)
	}

	if out := post(url.Values{"username": {"bob"}, "password": {"builder"}}); out.Kind != auth.OutcomeSuccess {
		t.Errorf("valid form: Kind = %v", out.Kind)
	}

	out := post(url.Values{"username": {"bob"}, "password": {"nope"}})
	if out.Kind != auth.OutcomeFail || out.Challenge.Text() != "Incorrect username or password" {
		t.Errorf("wrong password: %+v", out)
	}
	if out.Challenge.Header != "" {
		t.Errorf("form login must not send a WWW-Authenticate challenge, got %q", out.Challenge.Header)
	}

	out = post(url.Values{"username": {"bob"}})
	if out.Kind != auth.OutcomeFail || out.Status != http.StatusBadRequest {
		t.Errorf("missing password: %+v", out)
	}

	get := httptest.NewRequest("GET", "/login", nil)
	if out := s.Authenticate(context.Background(), get, nil); out.Status != http.StatusBadRequest {
		t.Errorf("GET: Status = %d, want 400", out.Status)
	}
}
