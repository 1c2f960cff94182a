// Package kv adapts Redis to the small set of primitives the pipeline needs:
// JSON documents with expiry, atomic counters, capped lists, leases and
// optimistic read-modify-write.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMissing is returned when a key does not exist.
	ErrMissing = errors.New("kv: key not found")
	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("kv: concurrent update conflict")
)

const maxTxRetries = 5

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var compareAndExpire = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Store namespaces keys under a prefix and exposes typed helpers.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. An empty prefix defaults to "lookbook".
func New(client redis.UniversalClient, prefix string) *Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "lookbook"
	}
	return &Store{client: client, prefix: prefix}
}

// Key joins parts under the store prefix.
func (s *Store) Key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

// Client exposes the underlying client for scripts.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Run evaluates a Lua script against the store.
func (s *Store) Run(ctx context.Context, script *redis.Script, keys []string, args ...any) *redis.Cmd {
	return script.Run(ctx, s.client, keys, args...)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMissing
	}
	if err != nil {
		return "", fmt.Errorf("kv: get %s: %w", key, err)
	}
	return v, nil
}

// GetJSON decodes the document stored at key into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) error {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMissing
	}
	if err != nil {
		return fmt.Errorf("kv: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it with ttl (0 keeps it forever).
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}

// Int reads an integer counter, treating a missing key as zero.
func (s *Store) Int(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: incr %s: %w", key, err)
	}
	return v, nil
}

// SetNX stores value only when key is absent and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv: setnx %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete removes key only while it still holds value.
func (s *Store) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("kv: compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndExpire resets key's lifetime only while it still holds value.
func (s *Store) CompareAndExpire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	n, err := compareAndExpire.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("kv: compare-and-expire %s: %w", key, err)
	}
	return n == 1, nil
}

// TTL returns the remaining lifetime of key, or ErrMissing.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kv: ttl %s: %w", key, err)
	}
	if d == -2 {
		return 0, ErrMissing
	}
	return d, nil
}

// PushCapped prepends value to a list and trims it to max entries.
func (s *Store) PushCapped(ctx context.Context, key, value string, max int64, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, max-1)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: push %s: %w", key, err)
	}
	return nil
}

// Range returns list entries between start and stop inclusive.
func (s *Store) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	items, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: range %s: %w", key, err)
	}
	return items, nil
}

// Keys scans for keys matching pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv: scan %s: %w", pattern, err)
	}
	return out, nil
}

// Update runs fn against the current value of key inside a WATCH transaction
// and writes the result back with ttl. It retries when another writer wins.
func (s *Store) Update(ctx context.Context, key string, ttl time.Duration, fn func(current []byte) ([]byte, error)) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrMissing
			}
			if err != nil {
				return err
			}
			next, err := fn(current)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, next, ttl)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}
