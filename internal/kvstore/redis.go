package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions mirrors the store-related configuration knobs.
type RedisOptions struct {
	Addr           string
	DB             int
	MaxConnections int
	SocketTimeout  time.Duration
	ConnectTimeout time.Duration
	HealthCheck    time.Duration
	RetryOnTimeout bool
}

// RedisStore implements Store on go-redis v9. An optional observer sees every
// operation outcome so callers can keep an operations counter without this
// package importing the metrics registry.
type RedisStore struct {
	rdb     *redis.Client
	observe func(op string, err error)
}

// NewRedis connects and pings the store; a failed ping is a startup error.
func NewRedis(ctx context.Context, opts RedisOptions, observe func(op string, err error)) (*RedisStore, error) {
	retries := 0
	if opts.RetryOnTimeout {
		retries = 2
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DB:           opts.DB,
		PoolSize:     opts.MaxConnections,
		DialTimeout:  opts.ConnectTimeout,
		ReadTimeout:  opts.SocketTimeout,
		WriteTimeout: opts.SocketTimeout,
		MaxRetries:   retries,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}

	slog.Info("redis connected", "addr", opts.Addr, "db", opts.DB)
	if observe == nil {
		observe = func(string, error) {}
	}
	return &RedisStore{rdb: rdb, observe: observe}, nil
}

// PoolStats exposes the underlying pool counters for the pool-metrics worker.
func (s *RedisStore) PoolStats() *redis.PoolStats {
	return s.rdb.PoolStats()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	err := s.rdb.Ping(ctx).Err()
	s.observe("ping", err)
	return err
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.observe("get", nil)
		return nil, ErrNotFound
	}
	s.observe("get", err)
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.rdb.Set(ctx, key, value, ttl).Err()
	s.observe("set", err)
	return err
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	err := s.rdb.Del(ctx, keys...).Err()
	s.observe("del", err)
	return err
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.rdb.Expire(ctx, key, ttl).Err()
	s.observe("expire", err)
	return err
}

func (s *RedisStore) PruneAndCount(ctx context.Context, key string, max float64) (int64, error) {
	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatFloat(max, 'f', -1, 64))
	card := pipe.ZCard(ctx, key)
	_, err := pipe.Exec(ctx)
	s.observe("zwindow", err)
	if err != nil {
		return 0, err
	}
	return card.Val(), nil
}

func (s *RedisStore) AddToWindow(ctx context.Context, key string, score float64, ttl time.Duration) error {
	member := strconv.FormatFloat(score, 'f', 6, 64)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	s.observe("zadd", err)
	return err
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, key, member)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	s.observe("sadd", err)
	return err
}

func (s *RedisStore) SRem(ctx context.Context, key, member string) error {
	err := s.rdb.SRem(ctx, key, member).Err()
	s.observe("srem", err)
	return err
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.SCard(ctx, key).Result()
	s.observe("scard", err)
	return n, err
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	s.observe("smembers", err)
	return members, err
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
