// Package cursor persists the extractor's high-water mark in Redis.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/trinhhung12345/data-warehouse/internal/etlerr"
)

// advanceScript raises the cursor to ARGV[1] unless it already holds a
// value at least as large, and returns the stored value.
var advanceScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local n = tonumber(current)
if n == nil or tonumber(ARGV[1]) > n then
	redis.call('SET', KEYS[1], ARGV[1])
	return ARGV[1]
end
return current
`)

// Store reads and advances the last published trip id
type Store struct {
	client redis.Cmdable
	key    string
}

// NewStore creates a cursor store on key
func NewStore(client redis.Cmdable, key string) *Store {
	return &Store{client: client, key: key}
}

// Key returns the Redis key holding the cursor
func (s *Store) Key() string {
	return s.key
}

// Get returns the cursor. A missing key means nothing was published yet.
func (s *Store) Get(ctx context.Context) (int64, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, etlerr.Transient("get cursor", err)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, etlerr.FatalConfig("get cursor", fmt.Errorf("key %s holds non-integer %q", s.key, raw))
	}
	return id, nil
}

// Advance raises the cursor to id atomically and returns the stored value.
// A lower id leaves the cursor unchanged.
func (s *Store) Advance(ctx context.Context, id int64) (int64, error) {
	stored, err := advanceScript.Run(ctx, s.client, []string{s.key}, strconv.FormatInt(id, 10)).Int64()
	if err != nil {
		return 0, etlerr.Transient("advance cursor", err)
	}
	return stored, nil
}

// Set overwrites the cursor, lowering it if needed. Used by admin commands only.
func (s *Store) Set(ctx context.Context, id int64) error {
	if err := s.client.Set(ctx, s.key, strconv.FormatInt(id, 10), 0).Err(); err != nil {
		return etlerr.Transient("set cursor", err)
	}
	return nil
}

// Delete removes the cursor so the next extraction starts from the beginning
func (s *Store) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return etlerr.Transient("delete cursor", err)
	}
	return nil
}
