package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultKeyPrefix namespaces checkpoint keys.
const DefaultKeyPrefix = "crawl:checkpoint:"

// RedisStore keeps checkpoints as JSON strings in Redis. A single SET
// replaces the previous value atomically.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed store. A ttl of 0 keeps checkpoints
// until cleared.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		prefix: DefaultKeyPrefix,
		ttl:    ttl,
		logger: log.With().Str("component", "checkpoint").Str("backend", "redis").Logger(),
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, name string) (State, error) {
	if err := validateName(name); err != nil {
		return State{}, err
	}

	data, err := s.redis.Get(ctx, s.key(name)).Bytes()
	if err == redis.Nil {
		return State{}, nil
	}
	if err != nil {
		errorsTotal.WithLabelValues("redis", "load").Inc()
		return State{}, fmt.Errorf("redis get checkpoint %s: %w", name, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		errorsTotal.WithLabelValues("redis", "load").Inc()
		return State{}, fmt.Errorf("decode checkpoint %s: %w", name, err)
	}
	return state, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, name string, state State) error {
	if err := validateName(name); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", name, err)
	}
	if err := s.redis.Set(ctx, s.key(name), data, s.ttl).Err(); err != nil {
		errorsTotal.WithLabelValues("redis", "save").Inc()
		return fmt.Errorf("redis set checkpoint %s: %w", name, err)
	}

	savesTotal.WithLabelValues("redis").Inc()
	s.logger.Debug().Str("name", name).Int("last_page", state.LastPage).Msg("Checkpoint saved")
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := s.redis.Del(ctx, s.key(name)).Err(); err != nil {
		errorsTotal.WithLabelValues("redis", "clear").Inc()
		return fmt.Errorf("redis del checkpoint %s: %w", name, err)
	}
	return nil
}
