// Package postgres provides a PostgreSQL implementation of session.Store.
// It uses pgx/v5 for connection pooling and JSONB for the identity and
// pending flash messages.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/turnstile/pkg/auth"
	"github.com/rhuss/turnstile/pkg/debug"
	"github.com/rhuss/turnstile/pkg/session"
	"github.com/rhuss/turnstile/pkg/storage"
)

// Store is a PostgreSQL-backed session store.
type Store struct {
	pool    *pgxpool.Pool
	cleanup time.Duration
}

// Ensure Store implements session.Store at compile time.
var _ session.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, cleanup: cfg.CleanupInterval}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Get retrieves an unexpired session by ID.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	var (
		sess         session.Session
		identityJSON []byte
		flashesJSON  []byte
		returnTo     *string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT id, identity, flashes, return_to, created_at, expires_at
		FROM sessions
		WHERE id = $1 AND expires_at > now()
	`, id).Scan(&sess.ID, &identityJSON, &flashesJSON, &returnTo, &sess.CreatedAt, &sess.ExpiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if len(identityJSON) > 0 {
		var identity auth.Identity
		if err := json.Unmarshal(identityJSON, &identity); err != nil {
			return nil, fmt.Errorf("unmarshaling identity: %w", err)
		}
		sess.Identity = &identity
	}
	if err := json.Unmarshal(flashesJSON, &sess.Flashes); err != nil {
		return nil, fmt.Errorf("unmarshaling flashes: %w", err)
	}
	if returnTo != nil {
		sess.ReturnTo = *returnTo
	}

	return &sess, nil
}

// Save inserts or replaces a session.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	var (
		identityJSON []byte
		subject      *string
		err          error
	)
	if sess.Identity != nil {
		identityJSON, err = json.Marshal(sess.Identity)
		if err != nil {
			return fmt.Errorf("marshaling identity: %w", err)
		}
		subject = &sess.Identity.Subject
	}

	flashes := sess.Flashes
	if flashes == nil {
		flashes = []session.Flash{}
	}
	flashesJSON, err := json.Marshal(flashes)
	if err != nil {
		return fmt.Errorf("marshaling flashes: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, subject, identity, flashes, return_to, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			subject = EXCLUDED.subject,
			identity = EXCLUDED.identity,
			flashes = EXCLUDED.flashes,
			return_to = EXCLUDED.return_to,
			expires_at = EXCLUDED.expires_at
	`,
		sess.ID, subject, nullJSON(identityJSON), flashesJSON, nullString(sess.ReturnTo),
		sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteSubject removes every session logged in as subject and returns
// how many were removed.
func (s *Store) DeleteSubject(ctx context.Context, subject string) (int64, error) {
	result, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE subject = $1", subject)
	if err != nil {
		return 0, fmt.Errorf("deleting sessions of %q: %w", subject, err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes sessions past their expiry.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// RunJanitor deletes expired sessions every interval until ctx is done.
// A zero interval uses Config.CleanupInterval.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cleanup
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("session cleanup failed", "error", err)
				}
				continue
			}
			debug.Log("storage", "expired sessions deleted", "count", n)
		}
	}
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
