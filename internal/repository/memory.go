package repository

import (
	"context"
	"sync"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/models"
)

// MemorySessionRepository is the single-process SessionRepository used when
// no Redis is configured.
type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	refresh  map[string]string
	now      func() time.Time
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[string]models.Session),
		refresh:  make(map[string]string),
		now:      time.Now,
	}
}

func (r *MemorySessionRepository) Save(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	r.refresh[s.RefreshTokenHash] = s.ID
	return nil
}

func (r *MemorySessionRepository) Get(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !r.now().Before(s.ExpiresAt) {
		delete(r.sessions, id)
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (r *MemorySessionRepository) TakeRefreshToken(_ context.Context, tokenHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.refresh[tokenHash]
	if !ok {
		return "", ErrSessionNotFound
	}
	delete(r.refresh, tokenHash)
	return id, nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	delete(r.refresh, s.RefreshTokenHash)
	return nil
}

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryRedirectRepository is the single-process RedirectRepository.
type MemoryRedirectRepository struct {
	mu      sync.Mutex
	states  map[string]expiring[struct{}]
	results map[string]expiring[models.RedirectResult]
	now     func() time.Time
}

func NewMemoryRedirectRepository() *MemoryRedirectRepository {
	return &MemoryRedirectRepository{
		states:  make(map[string]expiring[struct{}]),
		results: make(map[string]expiring[models.RedirectResult]),
		now:     time.Now,
	}
}

func (r *MemoryRedirectRepository) SaveState(_ context.Context, state string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state] = expiring[struct{}]{expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryRedirectRepository) ConsumeState(_ context.Context, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.states[state]
	delete(r.states, state)
	if !ok || !r.now().Before(e.expiresAt) {
		return ErrRedirectNotFound
	}
	return nil
}

func (r *MemoryRedirectRepository) SaveResult(_ context.Context, result *models.RedirectResult, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.State] = expiring[models.RedirectResult]{value: *result, expiresAt: r.now().Add(ttl)}
	return nil
}

func (r *MemoryRedirectRepository) TakeResult(_ context.Context, state string) (*models.RedirectResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.results[state]
	delete(r.results, state)
	if !ok || !r.now().Before(e.expiresAt) {
		return nil, ErrRedirectNotFound
	}
	return &e.value, nil
}
