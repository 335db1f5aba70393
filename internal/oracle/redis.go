package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "tripline:travel:"

// RedisStore shares travel times between sessions and instances. Values
// are stored as JSON under "tripline:travel:{cache key}".
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions mirrors the redis section of the config file.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl: opts.TTL,
	}
}

// Ping checks connectivity so startup can fall back to memory-only caching.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (TravelTime, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return TravelTime{}, false, nil
	}
	if err != nil {
		return TravelTime{}, false, err
	}
	var v TravelTime
	if err := json.Unmarshal(raw, &v); err != nil {
		return TravelTime{}, false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, v TravelTime) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+key, raw, s.ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
