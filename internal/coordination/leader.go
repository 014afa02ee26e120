package coordination

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLeader implements Leader with a renewed Redis lock: SET NX PX to
// acquire, a background renewal loop to keep the lease alive, and a
// Lua-free best-effort release on Resign (correctness here only needs a
// single winner, not linearizable fencing).
type RedisLeader struct {
	client   *redis.Client
	key      string
	token    string
	ttl      time.Duration
	interval time.Duration
}

func NewRedisLeader(client *redis.Client, key string, ttl time.Duration) *RedisLeader {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &RedisLeader{
		client:   client,
		key:      key,
		token:    uuid.NewString(),
		ttl:      ttl,
		interval: ttl / 3,
	}
}

// Campaign retries acquisition until it succeeds or ctx is cancelled, then
// starts a renewal loop and returns a channel that closes when renewal
// fails (lease lost, typically meaning another instance now holds it).
func (l *RedisLeader) Campaign(ctx context.Context) (<-chan struct{}, error) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	lost := make(chan struct{})
	go l.renewLoop(ctx, lost)
	return lost, nil
}

func (l *RedisLeader) renewLoop(ctx context.Context, lost chan struct{}) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer close(lost)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			val, err := l.client.Get(ctx, l.key).Result()
			if err != nil || val != l.token {
				return
			}
			if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
				return
			}
		}
	}
}

// Resign releases the lock if still held by this instance's token.
func (l *RedisLeader) Resign(ctx context.Context) error {
	val, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != l.token {
		return nil
	}
	return l.client.Del(ctx, l.key).Err()
}
