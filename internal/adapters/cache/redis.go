package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
)

// DefaultListPrefix namespaces the occurrence list cache keys.
const DefaultListPrefix = "occurrences:list"

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings once. The caller owns the client.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// RedisInvalidator bumps "<prefix>:version". Readers that embed the version
// in their cache keys stop seeing entries written before the bump.
type RedisInvalidator struct {
	client redis.Cmdable
	key    string
}

func NewRedisInvalidator(client redis.Cmdable, prefix string) *RedisInvalidator {
	if prefix == "" {
		prefix = DefaultListPrefix
	}
	return &RedisInvalidator{client: client, key: prefix + ":version"}
}

func (r *RedisInvalidator) Invalidate(ctx context.Context) error {
	if err := r.client.Incr(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("incr %s: %w", r.key, err)
	}
	return nil
}

// Version reads the current list cache version. A missing key is version 0.
func (r *RedisInvalidator) Version(ctx context.Context) (int64, error) {
	v, err := r.client.Get(ctx, r.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", r.key, err)
	}
	return v, nil
}

// RedisScopeLocker hands out short-lived redislock locks.
type RedisScopeLocker struct {
	locker *redislock.Client
}

func NewRedisScopeLocker(client redis.UniversalClient) *RedisScopeLocker {
	return &RedisScopeLocker{locker: redislock.New(client)}
}

func (l *RedisScopeLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.locker.Obtain(ctx, "lock:"+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ports.ErrLockNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return lock.Release, nil
}

var (
	_ ports.CacheInvalidator = (*RedisInvalidator)(nil)
	_ ports.ScopeLocker      = (*RedisScopeLocker)(nil)
)
