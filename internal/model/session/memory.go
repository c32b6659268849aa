package session

import (
	"context"
	"sync"
)

// MemoryRepository keeps the session in process memory only, suitable for tests and
// throwaway shells.
type MemoryRepository struct {
	mu     sync.RWMutex
	stored *Session
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Load returns the stored session, if any.
func (r *MemoryRepository) Load(_ context.Context) (Session, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stored == nil {
		return Session{}, false, nil
	}
	return r.stored.Clone(), true, nil
}

// Save replaces the stored session.
func (r *MemoryRepository) Save(_ context.Context, s Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	copied := s.Clone()
	r.mu.Lock()
	r.stored = &copied
	r.mu.Unlock()
	return nil
}

// Delete drops the stored session.
func (r *MemoryRepository) Delete(_ context.Context) error {
	r.mu.Lock()
	r.stored = nil
	r.mu.Unlock()
	return nil
}
