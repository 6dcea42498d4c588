package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the state document when the URL names no key
const DefaultRedisKey = "watch-and-recover:state"

// RedisStore keeps RunState as one JSON document under a single key
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to location, either a redis:// URL or host:port.
// A "key" query parameter overrides DefaultRedisKey.
func NewRedisStore(location string) (*RedisStore, error) {
	if location == "" {
		return nil, fmt.Errorf("Redis address is required")
	}

	key := DefaultRedisKey
	var opts *redis.Options
	if strings.HasPrefix(location, "redis://") || strings.HasPrefix(location, "rediss://") {
		base, query, _ := strings.Cut(location, "?")
		var rest []string
		for _, kv := range strings.Split(query, "&") {
			if k, v, ok := strings.Cut(kv, "="); ok && k == "key" && v != "" {
				key = v
			} else if kv != "" {
				rest = append(rest, kv)
			}
		}
		if len(rest) > 0 {
			base += "?" + strings.Join(rest, "&")
		}
		parsed, err := redis.ParseURL(base)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: location}
	}

	opts.MaxRetries = 3
	opts.PoolSize = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Key returns the key the state document is stored under
func (s *RedisStore) Key() string {
	return s.key
}

// Load implements Store
func (s *RedisStore) Load(ctx context.Context) (*RunState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(), nil
	}
	if err != nil {
		return New(), fmt.Errorf("%w: failed to read state: %v", ErrCorrupt, err)
	}
	return decodeState(data)
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, st *RunState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
