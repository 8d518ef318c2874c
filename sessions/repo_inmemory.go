package sessions

import (
	"context"
	"errors"
	"sync"
)

// InMemoryRepo is a thread-safe in-memory Store. Expired records are dropped lazily on read.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Record // sessionID -> Record
}

var _ Store = (*InMemoryRepo)(nil)

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]*Record),
	}
}

// Load returns a copy of the stored record
func (r *InMemoryRepo) Load(_ context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}

	r.mu.RLock()
	rec, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if rec.Expired(NowTimeFunc()) {
		r.mu.Lock()
		if current, ok := r.sessions[id]; ok && current.Version == rec.Version {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

func (r *InMemoryRepo) Save(_ context.Context, rec *Record) (*Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, errors.New("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var storedVersion int64
	if current, ok := r.sessions[rec.ID]; ok {
		storedVersion = current.Version
	}
	if storedVersion != rec.Version {
		return nil, ErrVersionConflict
	}

	saved := rec.clone()
	saved.Version++
	r.sessions[rec.ID] = saved
	return saved.clone(), nil
}

func (r *InMemoryRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// Sweep removes expired records and returns how many were dropped.
func (r *InMemoryRepo) Sweep() int {
	now := NowTimeFunc()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, rec := range r.sessions {
		if rec.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
