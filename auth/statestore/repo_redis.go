package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-visit-sessions/internal/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "visits:login:"

// RedisRepo keeps pending logins in Redis so that any replica can
// complete a login another replica started
type RedisRepo struct {
	client *redis.Client
	prefix string
}

var _ Repo = (*RedisRepo)(nil)

// NewRedisRepo creates a repository backed by client
func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{
		client: client,
		prefix: redisKeyPrefix,
	}
}

func (r *RedisRepo) key(id string) string {
	return r.prefix + id
}

func (r *RedisRepo) Put(ctx context.Context, id string, login PendingLogin, ttl time.Duration) error {
	if id == "" {
		return errors.New("login session id cannot be empty")
	}
	encoded, err := json.Marshal(login)
	if err != nil {
		return fmt.Errorf("failed to encode pending login: %w", err)
	}
	if err := r.client.Set(ctx, r.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending login: %w", err)
	}
	return nil
}

// Take uses GETDEL so two concurrent callbacks cannot both consume a login
func (r *RedisRepo) Take(ctx context.Context, id string) (*PendingLogin, error) {
	data, err := r.client.GetDel(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending login %w", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending login: %w", err)
	}

	var login PendingLogin
	if err := json.Unmarshal(data, &login); err != nil {
		return nil, fmt.Errorf("failed to decode pending login: %w", err)
	}
	return &login, nil
}
