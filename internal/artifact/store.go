package artifact

import (
	"context"
	"sync"
	"time"

	"github.com/Diegomcha/netquery/internal/apperrors"
	"github.com/Diegomcha/netquery/internal/domain"
)

// Store keeps finished artifacts for a bounded download window.
type Store interface {
	Put(ctx context.Context, a *Artifact) error
	// Get returns apperrors.ErrNotFound for unknown or swept jobs.
	Get(ctx context.Context, jobID string) (*Artifact, error)
	// Find returns the newest artifact with the given download name.
	Find(ctx context.Context, name string) (*Artifact, error)
	Delete(ctx context.Context, jobID string) error
	// Sweep removes artifacts created before cutoff and reports how many went.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// MemoryStore is a Store held in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Artifact
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Artifact)}
}

func (s *MemoryStore) Put(ctx context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.JobID] = clone(a)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[jobID]
	if !ok {
		return nil, apperrors.NotFound("artifact", jobID)
	}
	return clone(a), nil
}

func (s *MemoryStore) Find(ctx context.Context, name string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Artifact
	for _, a := range s.items {
		if a.Name == name && (found == nil || a.CreatedAt.After(found.CreatedAt)) {
			found = a
		}
	}
	if found == nil {
		return nil, apperrors.NotFound("artifact", name)
	}
	return clone(found), nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, jobID)
	return nil
}

func (s *MemoryStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.items {
		if a.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func clone(a *Artifact) *Artifact {
	c := *a
	c.Records = append([]domain.Record(nil), a.Records...)
	return &c
}
