package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhuss/turnstile/pkg/auth"
	"github.com/rhuss/turnstile/pkg/session"
	"github.com/rhuss/turnstile/pkg/storage"
)

func makeSession(id string) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:        id,
		Identity:  &auth.Identity{Subject: "alice", Metadata: map[string]string{"tenant_id": "org-1"}},
		Flashes:   []session.Flash{{Kind: "error", Message: "try again"}},
		ReturnTo:  "/reports",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestSaveAndGet(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	if err := s.Save(ctx, makeSession("sess_1")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, "sess_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Identity.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", got.Identity.Subject, "alice")
	}
	if got.ReturnTo != "/reports" {
		t.Errorf("ReturnTo = %q", got.ReturnTo)
	}
	if len(got.Flashes) != 1 {
		t.Errorf("len(Flashes) = %d, want 1", len(got.Flashes))
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.Save(ctx, makeSession("sess_copy"))

	got, _ := s.Get(ctx, "sess_copy")
	got.Flashes = nil
	got.Identity.Metadata["tenant_id"] = "changed"

	again, _ := s.Get(ctx, "sess_copy")
	if len(again.Flashes) != 1 || again.Identity.TenantID() != "org-1" {
		t.Error("mutating a returned session must not change the stored one")
	}
}

func TestGetNotFound(t *testing.T) {
	s := New(0)

	_, err := s.Get(context.Background(), "sess_missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	sess := makeSession("sess_upd")
	s.Save(ctx, sess)
	sess.ReturnTo = ""
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, _ := s.Get(ctx, "sess_upd")
	if got.ReturnTo != "" {
		t.Errorf("ReturnTo = %q, want empty", got.ReturnTo)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestDelete(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.Save(ctx, makeSession("sess_del"))

	if err := s.Delete(ctx, "sess_del"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "sess_del"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "sess_del"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	s.Save(ctx, makeSession("sess_exp"))

	now = now.Add(2 * time.Hour)
	if _, err := s.Get(ctx, "sess_exp"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired session, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("expired session should be removed on access")
	}
}

func TestHealthCheck(t *testing.T) {
	s := New(0)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestClose(t *testing.T) {
	s := New(0)
	ctx := context.Background()
	s.Save(ctx, makeSession("sess_c"))
	s.Close()

	if err := s.Save(ctx, makeSession("sess_d")); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Save after Close = %v, want ErrClosed", err)
	}
	if _, err := s.Get(ctx, "sess_c"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(3) // max 3 entries
	ctx := context.Background()

	s.Save(ctx, makeSession("sess_a"))
	s.Save(ctx, makeSession("sess_b"))
	s.Save(ctx, makeSession("sess_c"))

	// Touch sess_a so that sess_b becomes the least recently used.
	if _, err := s.Get(ctx, "sess_a"); err != nil {
		t.Fatalf("expected sess_a to exist, got %v", err)
	}

	s.Save(ctx, makeSession("sess_d"))

	if _, err := s.Get(ctx, "sess_b"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expected sess_b to be evicted")
	}

	for _, id := range []string{"sess_a", "sess_c", "sess_d"} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Errorf("expected %s to exist after eviction, got %v", id, err)
		}
	}
}

func TestLRUEviction_Unlimited(t *testing.T) {
	s := New(0) // unlimited
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		s.Save(ctx, makeSession("sess_"+string(rune('a'+i))))
	}

	if s.Len() != 100 {
		t.Errorf("expected 100 entries, got %d", s.Len())
	}
}
