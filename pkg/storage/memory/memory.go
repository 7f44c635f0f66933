// Package memory provides an in-memory implementation of session.Store
// for tests and single-instance deployments. Sessions are lost when the
// process restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rhuss/turnstile/pkg/session"
	"github.com/rhuss/turnstile/pkg/storage"
)

// entry holds a stored session and its LRU position.
type entry struct {
	sess    *session.Session
	lruElem *list.Element
}

// Store is an in-memory session store with optional LRU eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
	now     func() time.Time
	closed  bool
}

// Ensure Store implements session.Store at compile time.
var _ session.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used session is
// evicted when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a copy of the session. Expired sessions are removed and
// reported as not found.
func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	e, ok := s.entries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if e.sess.Expired(s.now()) {
		s.remove(id, e)
		return nil, storage.ErrNotFound
	}

	s.lruList.MoveToFront(e.lruElem)
	return clone(e.sess), nil
}

// Save inserts or replaces a session.
func (s *Store) Save(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	if e, ok := s.entries[sess.ID]; ok {
		e.sess = clone(sess)
		s.lruList.MoveToFront(e.lruElem)
		return nil
	}

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(sess.ID)
	s.entries[sess.ID] = &entry{sess: clone(sess), lruElem: elem}
	return nil
}

// Delete removes a session.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.remove(id, e)
	return nil
}

// Len returns the number of stored sessions, including expired ones not
// yet collected.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close drops all sessions.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.lruList.Init()
	s.closed = true
	return nil
}

// remove must be called with s.mu held.
func (s *Store) remove(id string, e *entry) {
	s.lruList.Remove(e.lruElem)
	delete(s.entries, id)
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}

func clone(in *session.Session) *session.Session {
	out := *in
	out.Flashes = append([]session.Flash(nil), in.Flashes...)
	out.Identity = in.Identity.Clone()
	return &out
}
