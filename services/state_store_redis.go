package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"songline/models"
)

type RedisStateStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	return &RedisStateStore{redis: client, ttl: ttl}
}

func stateKey(roomID string) string {
	return "room:" + roomID + ":state"
}

func (s *RedisStateStore) Load(ctx context.Context, roomID string) (*models.GameState, error) {
	data, err := s.redis.Get(ctx, stateKey(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read room state from Redis: %w", err)
	}
	return decodeState(data)
}

// Save refreshes the TTL on every write, so only abandoned rooms expire.
func (s *RedisStateStore) Save(ctx context.Context, state *models.GameState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, stateKey(state.RoomID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store room state in Redis: %w", err)
	}
	return nil
}
