package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements QuotaStore and JobStore against a Redis ZSET per
// quota key (one member per charge, scored by its Unix-nanosecond
// timestamp, evicted by ZRemRangeByScore) and a plain key per job. This is
// a reference/dev-test backend, not a spec requirement: concrete storage
// implementations are explicitly out of scope (spec.md §1 Non-goals); this
// type exists so the broker and scheduler have something real to run
// against in tests and local development.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pluginrt"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) quotaKey(key string, window time.Duration) string {
	return fmt.Sprintf("%s:quota:%s:%d", s.prefix, key, int64(window.Seconds()))
}

// ChargeWindow adds one member scored at "now" to key's ZSET, evicts
// members older than window, and returns the resulting cardinality.
func (s *RedisStore) ChargeWindow(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	zkey := s.quotaKey(key, window)
	now := time.Now()
	cutoff := now.Add(-window)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", fmt.Sprintf("%d", cutoff.UnixNano()))
	member := fmt.Sprintf("%d-%d", now.UnixNano(), now.Nanosecond())
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, zkey, window+time.Second)
	card := pipe.ZCard(ctx, zkey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("charge quota window: %w", err)
	}

	count, err := card.Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read quota cardinality: %w", err)
	}

	oldest, err := s.client.ZRangeWithScores(ctx, zkey, 0, 0).Result()
	resetAt := now.Add(window)
	if err == nil && len(oldest) > 0 {
		resetAt = time.Unix(0, int64(oldest[0].Score)).Add(window)
	}

	return count, resetAt, nil
}

func (s *RedisStore) jobKey(id string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, id)
}

func (s *RedisStore) Put(ctx context.Context, state JobState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	return s.client.Set(ctx, s.jobKey(state.ID), b, 24*time.Hour).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (JobState, bool, error) {
	b, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if err == redis.Nil {
		return JobState{}, false, nil
	}
	if err != nil {
		return JobState{}, false, fmt.Errorf("get job state: %w", err)
	}
	var state JobState
	if err := json.Unmarshal(b, &state); err != nil {
		return JobState{}, false, fmt.Errorf("unmarshal job state: %w", err)
	}
	return state, true, nil
}
