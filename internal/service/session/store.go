package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	model "github.com/dogwood/dashboard-client/internal/model/session"
)

// Store is the process-wide credential store. Every mutation is applied and persisted
// under one lock, so the final state is decided by the order in which writes complete.
type Store struct {
	mu      sync.Mutex
	repo    model.Repository
	current *model.Session

	ready  chan struct{}
	loaded bool
	dirty  bool

	issued  uint64
	applied uint64
}

// NewStore wraps a repository. Call Load before relying on Get.
func NewStore(repo model.Repository) *Store {
	if repo == nil {
		repo = model.NewMemoryRepository()
	}
	return &Store{repo: repo, ready: make(chan struct{})}
}

// Load reads the persisted session once. Writes that happen before Load finishes win over
// whatever the repository held.
func (s *Store) Load(ctx context.Context) error {
	stored, ok, err := s.repo.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	defer s.markLoaded()

	if s.dirty {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrIncomplete):
		log.Printf("[session] discarding incomplete persisted session")
		if delErr := s.repo.Delete(ctx); delErr != nil {
			return fmt.Errorf("delete incomplete session: %w", delErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	case ok:
		s.current = &stored
	}
	return nil
}

// markLoaded must be called with mu held.
func (s *Store) markLoaded() {
	if !s.loaded {
		s.loaded = true
		close(s.ready)
	}
}

// Ready is closed once the store knows whether a session exists.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Loaded reports whether Ready has been closed.
func (s *Store) Loaded() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Get returns the current session.
func (s *Store) Get() (model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Session{}, false
	}
	return s.current.Clone(), true
}

// Token returns the current token or "".
func (s *Store) Token() string {
	sess, ok := s.Get()
	if !ok {
		return ""
	}
	return sess.Token
}

// Set replaces the session. The last Set to complete determines the final state.
func (s *Store) Set(sess model.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(sess)
}

func (s *Store) setLocked(sess model.Session) error {
	if err := s.repo.Save(context.Background(), sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	copied := sess.Clone()
	s.current = &copied
	s.dirty = true
	s.markLoaded()
	return nil
}

// Clear removes the session from memory and the repository.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

// ClearIfToken clears the session only while token is still the current one. A rejection
// of a request issued under an older token must not drop a newer session. It reports
// whether the session was cleared.
func (s *Store) ClearIfToken(token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" || s.current == nil || s.current.Token != token {
		return false, nil
	}
	if err := s.clearLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) clearLocked() error {
	if err := s.repo.Delete(context.Background()); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.current = nil
	s.dirty = true
	// Results of requests issued before the logout must not resurrect the session
	// when sequence ordering is in use.
	s.applied = s.issued
	s.markLoaded()
	return nil
}

// Ticket hands out a monotonically increasing number at request issue time.
func (s *Store) Ticket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// SetIfLatest applies sess only if no write with a newer ticket has been applied.
// It reports whether the session was stored.
func (s *Store) SetIfLatest(ticket uint64, sess model.Session) (bool, error) {
	if err := sess.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket <= s.applied {
		return false, nil
	}
	if err := s.setLocked(sess); err != nil {
		return false, err
	}
	s.applied = ticket
	return true, nil
}
