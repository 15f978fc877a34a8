package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrMiss = errors.New("cache miss")

type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type RedisKV struct {
	c *redis.Client
}

func NewRedisKV(c *redis.Client) *RedisKV { return &RedisKV{c: c} }

// DialRedis connects and pings so misconfiguration fails at startup.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryKV is a process-local KV for single-instance deployments and tests.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	Now  func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string]memoryEntry{}, Now: time.Now}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return "", ErrMiss
	}
	if !e.expires.IsZero() && !m.Now().Before(e.expires) {
		delete(m.data, key)
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.Now().Add(ttl)
	}
	m.data[key] = e
	// drop expired entries opportunistically
	now := m.Now()
	for k, v := range m.data {
		if !v.expires.IsZero() && !now.Before(v.expires) {
			delete(m.data, k)
		}
	}
	return nil
}
