package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anguillanneuf/BizTrack/internal/models"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix = "session:"
	refreshKeyPrefix = "session:refresh:"
)

// SessionRepository stores sessions in Redis with a refresh-token index.
// Both keys expire with the session.
type SessionRepository struct {
	client goredis.Cmdable
}

func NewSessionRepository(client goredis.Cmdable) *SessionRepository {
	return &SessionRepository{client: client}
}

func (r *SessionRepository) Save(ctx context.Context, s *models.Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", s.ID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+s.ID, data, ttl)
		pipe.Set(ctx, refreshKeyPrefix+s.RefreshTokenHash, s.ID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// TakeRefreshToken removes the refresh index entry and returns its session
// id, so each refresh token is accepted at most once.
func (r *SessionRepository) TakeRefreshToken(ctx context.Context, tokenHash string) (string, error) {
	id, err := r.client.GetDel(ctx, refreshKeyPrefix+tokenHash).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read refresh token: %w", err)
	}
	return id, nil
}

func (r *SessionRepository) Delete(ctx context.Context, s *models.Session) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+s.ID, refreshKeyPrefix+s.RefreshTokenHash).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
