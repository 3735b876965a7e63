package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const DefaultRedisKey = "AUTODUB_JOBS"

// RedisStore keeps every job as a JSON value in a single redis hash keyed by
// job id.
type RedisStore struct {
	rdb *redis.Client
	key string
}

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Put(ctx context.Context, j Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", j.ID, err)
	}
	if err := s.rdb.HSet(ctx, s.key, j.ID, string(b)).Err(); err != nil {
		return fmt.Errorf("hset %s %s: %w", s.key, j.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	v, err := s.rdb.HGet(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("hget %s %s: %w", s.key, id, err)
	}
	var j Job
	if err := json.Unmarshal([]byte(v), &j); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return j, nil
}

func (s *RedisStore) List(ctx context.Context) ([]Job, error) {
	all, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	out := make([]Job, 0, len(all))
	for id, v := range all {
		var j Job
		if err := json.Unmarshal([]byte(v), &j); err != nil {
			return nil, fmt.Errorf("decode job %s: %w", id, err)
		}
		out = append(out, j)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.HDel(ctx, s.key, id).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("hdel %s %s: %w", s.key, id, err)
	}
	return nil
}
