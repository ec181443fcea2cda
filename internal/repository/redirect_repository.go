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
	redirectStatePrefix  = "redirect:state:"
	redirectResultPrefix = "redirect:result:"
)

// RedirectRepository tracks federated redirect sign-ins: the pending state
// issued before the redirect and the result waiting to be collected.
type RedirectRepository struct {
	client goredis.Cmdable
}

func NewRedirectRepository(client goredis.Cmdable) *RedirectRepository {
	return &RedirectRepository{client: client}
}

func (r *RedirectRepository) SaveState(ctx context.Context, state string, ttl time.Duration) error {
	if err := r.client.Set(ctx, redirectStatePrefix+state, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("failed to save redirect state: %w", err)
	}
	return nil
}

// ConsumeState succeeds once per issued state.
func (r *RedirectRepository) ConsumeState(ctx context.Context, state string) error {
	n, err := r.client.Del(ctx, redirectStatePrefix+state).Result()
	if err != nil {
		return fmt.Errorf("failed to consume redirect state: %w", err)
	}
	if n == 0 {
		return ErrRedirectNotFound
	}
	return nil
}

func (r *RedirectRepository) SaveResult(ctx context.Context, result *models.RedirectResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect result: %w", err)
	}
	if err := r.client.Set(ctx, redirectResultPrefix+result.State, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save redirect result: %w", err)
	}
	return nil
}

// TakeResult returns and removes the pending result for state.
func (r *RedirectRepository) TakeResult(ctx context.Context, state string) (*models.RedirectResult, error) {
	data, err := r.client.GetDel(ctx, redirectResultPrefix+state).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrRedirectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take redirect result: %w", err)
	}
	var result models.RedirectResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redirect result: %w", err)
	}
	return &result, nil
}
