package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoState is returned by a Store that holds nothing for a host.
var ErrNoState = errors.New("no rate limit state")

// Store persists per-host rate limit state.
type Store interface {
	Load(ctx context.Context, host string) (*State, error)
	Save(ctx context.Context, host string, state *State) error
}

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, host string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[host]
	if !ok {
		return nil, ErrNoState
	}
	return &state, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, host string, state *State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[host] = *state
	return nil
}

// Redis key layout: <prefix>:<host>:<field>.
const (
	DefaultKeyPrefix = "scrollfeed:rate_limit"

	keyRemaining = "remaining"
	keyReset     = "reset_timestamp"
	keyUpdate    = "last_update"
)

// RedisStore shares state between processes through Redis.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store. An empty prefix selects
// DefaultKeyPrefix.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key returns the Redis key holding field for host.
func (r *RedisStore) Key(host, field string) string {
	return r.prefix + ":" + host + ":" + field
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, host string) (*State, error) {
	remaining, err := r.redis.Get(ctx, r.Key(host, keyRemaining)).Int()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := r.redis.Get(ctx, r.Key(host, keyReset)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := r.redis.Get(ctx, r.Key(host, keyUpdate)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return &State{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}, nil
}

// Save implements Store. Keys expire shortly after the window resets.
func (r *RedisStore) Save(ctx context.Context, host string, state *State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	ttl := state.TimeUntilReset() + time.Minute

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, r.Key(host, keyRemaining), state.Remaining, ttl)
	pipe.Set(ctx, r.Key(host, keyReset), state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, r.Key(host, keyUpdate), lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
