package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dailydrop:runlock:"

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisOptions configures the Redis locker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis is a Locker backed by SET NX with an owner token.
type Redis struct {
	client   redis.UniversalClient
	ttl      time.Duration
	instance string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return NewRedisWithClient(client, opts.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	hostname, _ := os.Hostname()
	return &Redis{
		client:   client,
		ttl:      ttl,
		instance: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// Acquire sets the key if absent. The stored value identifies the holder.
func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	token := r.instance + ":" + uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	slog.Debug("run lock acquired", "key", key, "ttl", r.ttl, "instance", r.instance)
	return &redisLease{client: r.client, key: key, token: token}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	if n == 0 {
		slog.Warn("run lock already expired or taken over", "key", l.key)
	}
	return nil
}
