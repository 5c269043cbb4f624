package caching

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"licensehub/internal/logs"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "licensehub"

// ErrLockHeld is returned when a lock stays taken for the whole wait
var ErrLockHeld = errors.New("caching: lock is held by another holder")

const lockRetryInterval = 25 * time.Millisecond

// releaseScript deletes a lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Key builds a namespaced cache key
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// RateLimiter counts hits per key within a fixed window
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type CacheService interface {
	RateLimiter

	// Lock takes a short-lived exclusive lock, waiting up to ttl for it
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)

	Ping(ctx context.Context) error
	Close() error
}

type redisCacheService struct {
	client *redis.Client
	log    *logrus.Entry
}

func NewRedisCacheService(addr, password string, db int, logger logrus.FieldLogger) CacheService {
	parsedAddr := addr
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsedAddr = strings.TrimPrefix(strings.TrimPrefix(addr, "redis://"), "rediss://")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     parsedAddr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheServiceFromClient(client, logger)
}

func NewRedisCacheServiceFromClient(client *redis.Client, logger logrus.FieldLogger) CacheService {
	return &redisCacheService{client: client, log: logs.Component(logger, "cache")}
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisCacheService) Close() error {
	return r.client.Close()
}

func (r *redisCacheService) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	cacheKey := Key("lock", key)
	token := uuid.NewString()
	deadline := time.Now().Add(ttl)

	for {
		ok, err := r.client.SetNX(ctx, cacheKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockHeld
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		if err := releaseScript.Run(context.Background(), r.client, []string{cacheKey}, token).Err(); err != nil {
			r.log.WithError(err).WithField("key", cacheKey).Warn("Failed to release lock")
		}
	}, nil
}

func (r *redisCacheService) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	cacheKey := Key("ratelimit", key)
	count, err := r.client.Incr(ctx, cacheKey).Result()
	if err != nil {
		return true, err
	}

	// Set expiry on first request
	if count == 1 {
		if err := r.client.Expire(ctx, cacheKey, window).Err(); err != nil {
			return true, err
		}
	}

	return count <= int64(limit), nil
}
