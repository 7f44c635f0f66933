package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rhuss/turnstile/pkg/auth"
	"github.com/rhuss/turnstile/pkg/debug"
	"github.com/rhuss/turnstile/pkg/observability"
	"github.com/rhuss/turnstile/pkg/storage"
)

// Config controls the session cookie and lifetime.
type Config struct {
	CookieName string
	Path       string
	Domain     string
	Secure     bool
	SameSite   http.SameSite
	TTL        time.Duration
}

func (c *Config) defaults() {
	if c.CookieName == "" {
		c.CookieName = "turnstile_session"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
}

// Manager reads and writes sessions for HTTP requests.
type Manager struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ auth.LoginRecorder = (*Manager)(nil)
	_ auth.MessageSink   = (*Manager)(nil)
	_ auth.ReturnToStore = (*Manager)(nil)
)

// NewManager creates a manager over store.
func NewManager(store Store, cfg Config, logger *slog.Logger) *Manager {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// state caches the session of one request so that several hooks called
// while handling it see each other's changes.
type state struct {
	mu     sync.Mutex
	loaded bool
	sess   *Session

	// pending is the session cookie already set on the response, if any.
	pending *http.Cookie
}

type stateKey struct{}

// Middleware makes the session of a request shared by every Manager
// call made while handling it. Without it each call reloads the session
// named by the last session cookie set on the response, or else by the
// cookie sent by the client.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), stateKey{}, &state{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// state returns the shared request state. w may be nil for read-only
// callers.
func (m *Manager) state(w http.ResponseWriter, r *http.Request) *state {
	if st, ok := r.Context().Value(stateKey{}).(*state); ok {
		return st
	}
	return &state{pending: m.responseCookie(w)}
}

// responseCookie returns the last session cookie written to w.
func (m *Manager) responseCookie(w http.ResponseWriter) *http.Cookie {
	if w == nil {
		return nil
	}
	lines := w.Header().Values("Set-Cookie")
	for i := len(lines) - 1; i >= 0; i-- {
		c, err := http.ParseSetCookie(lines[i])
		if err == nil && c.Name == m.cfg.CookieName {
			return c
		}
	}
	return nil
}

// load returns the current session or nil. Callers hold st.mu.
func (m *Manager) load(r *http.Request, st *state) (*Session, error) {
	if st.loaded {
		return st.sess, nil
	}
	st.loaded = true

	c := st.pending
	if c == nil {
		var err error
		if c, err = r.Cookie(m.cfg.CookieName); err != nil {
			return nil, nil
		}
	}
	if c.Value == "" || c.MaxAge < 0 {
		return nil, nil
	}

	sess, err := m.store.Get(r.Context(), c.Value)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		debug.Log("session", "unknown session cookie", "path", r.URL.Path)
		return nil, nil
	case err != nil:
		observability.SessionOperationsTotal.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.Expired(m.now()) {
		return nil, nil
	}
	st.sess = sess
	return sess, nil
}

func (m *Manager) newSession() (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := m.now()
	return &Session{ID: id, CreatedAt: now, ExpiresAt: now.Add(m.cfg.TTL)}, nil
}

// loadOrCreate returns the current session, creating one if needed.
func (m *Manager) loadOrCreate(r *http.Request, st *state) (*Session, error) {
	sess, err := m.load(r, st)
	if err != nil || sess != nil {
		return sess, err
	}
	sess, err = m.newSession()
	if err != nil {
		return nil, err
	}
	st.sess = sess
	return sess, nil
}

// save stores sess and (re)sets the cookie.
func (m *Manager) save(w http.ResponseWriter, r *http.Request, sess *Session, op string) error {
	if err := m.store.Save(r.Context(), sess); err != nil {
		observability.SessionOperationsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("saving session: %w", err)
	}
	observability.SessionOperationsTotal.WithLabelValues(op, "ok").Inc()
	m.setCookie(w, m.cookie(sess.ID, sess.ExpiresAt))
	return nil
}

// setCookie replaces any session cookie set earlier on the response.
func (m *Manager) setCookie(w http.ResponseWriter, c *http.Cookie) {
	h := w.Header()
	var kept []string
	for _, line := range h.Values("Set-Cookie") {
		if prev, err := http.ParseSetCookie(line); err == nil && prev.Name == c.Name {
			continue
		}
		kept = append(kept, line)
	}
	h.Del("Set-Cookie")
	for _, line := range kept {
		h.Add("Set-Cookie", line)
	}
	http.SetCookie(w, c)
}

func (m *Manager) cookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.Path,
		Domain:   m.cfg.Domain,
		Secure:   m.cfg.Secure,
		HttpOnly: true,
		SameSite: m.cfg.SameSite,
	}
	if value == "" {
		c.MaxAge = -1
	} else {
		c.Expires = expires
	}
	return c
}

// Login records id in a fresh session. The session ID is rotated on
// every login; pending flashes and the return URL are carried over.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, id *auth.Identity) error {
	st := m.state(w, r)
	st.mu.Lock()
	defer st.mu.Unlock()

	prev, err := m.load(r, st)
	if err != nil {
		return err
	}

	sess, err := m.newSession()
	if err != nil {
		return err
	}
	if prev != nil {
		sess.Flashes = prev.Flashes
		sess.ReturnTo = prev.ReturnTo
	}
	sess.Identity = id.Clone()

	if err := m.save(w, r, sess, "login"); err != nil {
		return err
	}
	st.sess = sess

	if prev != nil {
		if err := m.store.Delete(r.Context(), prev.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("deleting rotated session failed", "error", err)
		}
		debug.Trace("session", "session rotated",
			"from", debug.Truncate(prev.ID, 8),
			"to", debug.Truncate(sess.ID, 8),
		)
	}

	m.logger.Info("session login", "subject", id.Subject)
	return nil
}

// Logout deletes the current session and clears the cookie.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	st := m.state(w, r)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := m.load(r, st)
	if err != nil {
		return err
	}
	m.setCookie(w, m.cookie("", time.Time{}))
	st.sess = nil
	if sess == nil {
		return nil
	}

	if err := m.store.Delete(r.Context(), sess.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		observability.SessionOperationsTotal.WithLabelValues("logout", "error").Inc()
		return fmt.Errorf("deleting session: %w", err)
	}
	observability.SessionOperationsTotal.WithLabelValues("logout", "ok").Inc()
	return nil
}

// Write appends a flash message.
func (m *Manager) Write(w http.ResponseWriter, r *http.Request, kind, message string) error {
	st := m.state(w, r)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := m.loadOrCreate(r, st)
	if err != nil {
		return err
	}
	sess.Flashes = append(sess.Flashes, Flash{Kind: kind, Message: message})
	return m.save(w, r, sess, "flash")
}

// ConsumeFlashes returns the pending flash messages and forgets them.
func (m *Manager) ConsumeFlashes(w http.ResponseWriter, r *http.Request) ([]Flash, error) {
	st := m.state(w, r)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := m.load(r, st)
	if err != nil || sess == nil || len(sess.Flashes) == 0 {
		return nil, err
	}
	flashes := sess.Flashes
	sess.Flashes = nil
	if err := m.save(w, r, sess, "consume_flash"); err != nil {
		return nil, err
	}
	return flashes, nil
}

// RememberReturnTo stores the URL a client should return to after login.
func (m *Manager) RememberReturnTo(w http.ResponseWriter, r *http.Request, url string) error {
	st := m.state(w, r)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := m.loadOrCreate(r, st)
	if err != nil {
		return err
	}
	sess.ReturnTo = url
	return m.save(w, r, sess, "return_to")
}

// TakeReturnTo returns and forgets the remembered URL. Errors are
// logged and reported as no URL.
func (m *Manager) TakeReturnTo(w http.ResponseWriter, r *http.Request) string {
	st := m.state(w, r)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := m.load(r, st)
	if err != nil {
		m.logger.Warn("loading session for return URL failed", "error", err)
		return ""
	}
	if sess == nil || sess.ReturnTo == "" {
		return ""
	}
	url := sess.ReturnTo
	sess.ReturnTo = ""
	if err := m.save(w, r, sess, "return_to"); err != nil {
		m.logger.Warn("clearing return URL failed", "error", err)
	}
	return url
}

// Identity returns the identity of the logged in session, or nil.
func (m *Manager) Identity(r *http.Request) (*auth.Identity, error) {
	st := m.state(nil, r)
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := m.load(r, st)
	if err != nil || sess == nil {
		return nil, err
	}
	return sess.Identity.Clone(), nil
}

func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
