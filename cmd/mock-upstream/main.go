// Command mock-upstream runs a development backend for the gateway. It
// echoes the identity headers set by turnstile and doubles as a tiny
// identity provider: it serves a JWKS and mints RS256 tokens that a jwt
// strategy pointed at it will accept.
//
// Configuration:
//
//	MOCK_PORT     - Listen port (default: 9090)
//	MOCK_ISSUER   - iss claim of minted tokens (default: http://localhost:9090)
//	MOCK_AUDIENCE - aud claim of minted tokens (default: turnstile)
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	transporthttp "github.com/rhuss/turnstile/pkg/transport/http"
)

const keyID = "mock-upstream"

func main() {
	port := envOr("MOCK_PORT", "9090")
	issuer := envOr("MOCK_ISSUER", "http://localhost:"+port)
	audience := envOr("MOCK_AUDIENCE", "turnstile")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating signing key failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newHandler(key, issuer, audience),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock upstream starting", "port", port, "issuer", issuer)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock upstream failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock upstream shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// echoResponse describes the request as the upstream received it.
type echoResponse struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Body    string `json:"body,omitempty"`
	Subject string `json:"subject"`
	Tier    string `json:"tier,omitempty"`
	Scopes  string `json:"scopes,omitempty"`
	Tenant  string `json:"tenant,omitempty"`
}

// tokenRequest is the body of POST /token.
type tokenRequest struct {
	Subject string   `json:"sub"`
	Tenant  string   `json:"tenant_id,omitempty"`
	Tier    string   `json:"tier,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
	TTL     string   `json:"ttl,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func newHandler(key *rsa.PrivateKey, issuer, audience string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		pub := &key.PublicKey
		writeJSON(w, http.StatusOK, map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": keyID,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" {
			http.Error(w, `{"error":"sub is required"}`, http.StatusBadRequest)
			return
		}
		ttl := time.Hour
		if req.TTL != "" {
			d, err := time.ParseDuration(req.TTL)
			if err != nil || d <= 0 {
				http.Error(w, `{"error":"invalid ttl"}`, http.StatusBadRequest)
				return
			}
			ttl = d
		}

		now := time.Now()
		claims := jwtlib.MapClaims{
			"iss": issuer,
			"aud": audience,
			"sub": req.Subject,
			"iat": now.Unix(),
			"exp": now.Add(ttl).Unix(),
		}
		if req.Tenant != "" {
			claims["tenant_id"] = req.Tenant
		}
		if req.Tier != "" {
			claims["tier"] = req.Tier
		}
		if len(req.Scopes) > 0 {
			claims["scope"] = strings.Join(req.Scopes, " ")
		}

		token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
		token.Header["kid"] = keyID
		signed, err := token.SignedString(key)
		if err != nil {
			slog.Error("signing token failed", "error", err)
			http.Error(w, `{"error":"signing failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: signed,
			TokenType:   "Bearer",
			ExpiresIn:   int(ttl.Seconds()),
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		slog.Debug("upstream request",
			"method", r.Method,
			"path", r.URL.Path,
			"subject", r.Header.Get(transporthttp.SubjectHeader),
		)
		writeJSON(w, http.StatusOK, echoResponse{
			Method:  r.Method,
			Path:    r.URL.Path,
			Body:    string(body),
			Subject: r.Header.Get(transporthttp.SubjectHeader),
			Tier:    r.Header.Get(transporthttp.TierHeader),
			Scopes:  r.Header.Get(transporthttp.ScopesHeader),
			Tenant:  r.Header.Get(transporthttp.TenantHeader),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
