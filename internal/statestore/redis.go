package statestore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record in a Redis hash with value, version and
// updated_at fields. Lua scripts make the version checks atomic, so the
// optimistic concurrency contract holds across any number of clients.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore returns a store that namespaces its keys under prefix.
// An empty prefix defaults to "pulse:state".
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "pulse:state"
	}
	return &RedisStore{client: client, prefix: normalized}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	fields, err := s.client.HMGet(ctx, s.redisKey(key), "value", "version").Result()
	if err != nil {
		return Record{}, fmt.Errorf("statestore: redis get %q: %w", key, err)
	}
	if fields[0] == nil && fields[1] == nil {
		return Record{}, ErrNotFound
	}
	value, okValue := fields[0].(string)
	rawVersion, okVersion := fields[1].(string)
	if !okValue || !okVersion {
		return Record{}, fmt.Errorf("%w: %q: missing hash fields", ErrCorrupt, key)
	}
	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil || version <= 0 {
		return Record{}, fmt.Errorf("%w: %q: version %q", ErrCorrupt, key, rawVersion)
	}
	return Record{Value: []byte(value), Version: version}, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	err := putScript.Run(ctx, s.client,
		[]string{s.redisKey(key)}, value, nowStamp()).Err()
	if err != nil {
		return fmt.Errorf("statestore: redis put %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error {
	swapped, err := casScript.Run(ctx, s.client,
		[]string{s.redisKey(key)}, value, version, nowStamp()).Int()
	if err != nil {
		return fmt.Errorf("statestore: redis cas %q: %w", key, err)
	}
	if swapped == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("statestore: redis delete %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.redisKey(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("statestore: redis list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + ":" + key
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// putScript bumps the version and overwrites the value in one step.
var putScript = redis.NewScript(`
local version = redis.call("HINCRBY", KEYS[1], "version", 1)
redis.call("HSET", KEYS[1], "value", ARGV[1], "updated_at", ARGV[2])
return version
`)

// casScript enforces the CompareAndSwap contract: version 0 requires the
// key to be absent, anything else must match the stored version.
var casScript = redis.NewScript(`
local expected = tonumber(ARGV[2])
if expected == 0 then
  if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
  end
  redis.call("HSET", KEYS[1], "value", ARGV[1], "version", 1, "updated_at", ARGV[3])
  return 1
end
local current = redis.call("HGET", KEYS[1], "version")
if not current or tonumber(current) ~= expected then
  return 0
end
redis.call("HSET", KEYS[1], "value", ARGV[1], "version", expected + 1, "updated_at", ARGV[3])
return 1
`)
