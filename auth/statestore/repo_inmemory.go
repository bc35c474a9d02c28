package statestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
)

type entry struct {
	login     PendingLogin
	expiresAt time.Time
}

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.Mutex
	logins map[string]entry
	now    func() time.Time
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory pending login repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		logins: make(map[string]entry),
		now:    time.Now,
	}
}

// Put stores a pending login, replacing any previous one with the same id
func (r *InMemoryRepo) Put(_ context.Context, id string, login PendingLogin, ttl time.Duration) error {
	if id == "" {
		return errors.New("login session id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.logins[id] = entry{login: login, expiresAt: now.Add(ttl)}

	// Expired entries are dropped lazily on writes
	for k, e := range r.logins {
		if !now.Before(e.expiresAt) {
			delete(r.logins, k)
		}
	}
	return nil
}

// Take removes and returns the pending login for id
func (r *InMemoryRepo) Take(_ context.Context, id string) (*PendingLogin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.logins[id]
	if !ok {
		return nil, fmt.Errorf("pending login %w", apperrors.ErrNotFound)
	}
	delete(r.logins, id)

	if !r.now().Before(e.expiresAt) {
		return nil, fmt.Errorf("pending login expired: %w", apperrors.ErrNotFound)
	}
	login := e.login
	return &login, nil
}
