package approvalstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript compares the stored value against ARGV[1] and, if equal,
// replaces it with ARGV[2] and resets the TTL to ARGV[3] seconds. It
// returns 1 on success, 0 otherwise, atomically from Redis's perspective.
const casScript = `
local current = redis.call("GET", KEYS[1])
if current == false or current ~= ARGV[1] then
  return 0
end
redis.call("SETEX", KEYS[1], ARGV[3], ARGV[2])
return 1
`

// RedisStore implements KVStore against a real (or miniredis-backed) Redis
// server, following the same client-construction idiom used elsewhere in
// the reference stack: parse the URL, ping once at startup, fail fast.
type RedisStore struct {
	client *redis.Client
	cas    *redis.Script
}

// NewRedisStore connects to addr and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, cas: redis.NewScript(casScript)}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by
// tests that point at a miniredis instance.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, cas: redis.NewScript(casScript)}
}

var _ KVStore = (*RedisStore)(nil)

func (s *RedisStore) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis setex %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return keys, nil
}

func (s *RedisStore) CAS(ctx context.Context, key string, expected, newValue []byte, ttl time.Duration) (bool, error) {
	res, err := s.cas.Run(ctx, s.client, []string{key}, string(expected), string(newValue), int(ttl.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("redis cas %s: %w", key, err)
	}
	return res == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
