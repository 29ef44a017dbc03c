// Package cache is the expiring hash store credentials live in.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BookBrainz/bookbrainz-ws/logger"
)

// ErrUnavailable wraps every failure to reach Redis. Callers surface it as a 5xx.
var ErrUnavailable = errors.New("credential store unavailable")

// Store is a thin key-prefixing layer over a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. Every key passed to the Store is stored under prefix+key.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Replacement describes an atomic swap of the record a pointer key refers to.
//
// The record currently named by Pointer is deleted together with the key held
// in its Link field. Fields is then written under every key in Keys, all of
// them expire after TTL, and Pointer is set to Keys[0] with the same TTL.
type Replacement struct {
	Pointer string
	Link    string
	Keys    []string
	Fields  map[string]string
	TTL     time.Duration
}

// KEYS[1]   = pointer key
// KEYS[2..] = keys receiving the new record
// ARGV[1]   = key prefix, prepended to the values read from the old record
// ARGV[2]   = link field of the old record
// ARGV[3]   = ttl in milliseconds
// ARGV[4]   = new pointer value
// ARGV[5..] = field/value pairs
var replaceLinkedScript = redis.NewScript(`
local prefix = ARGV[1]
local old = redis.call('GET', KEYS[1])
if old then
    local sibling = redis.call('HGET', prefix .. old, ARGV[2])
    redis.call('DEL', prefix .. old)
    if sibling then
        redis.call('DEL', prefix .. sibling)
    end
end

if tonumber(ARGV[3]) <= 0 then
    redis.call('DEL', unpack(KEYS))
    return 0
end

for i = 2, #KEYS do
    redis.call('DEL', KEYS[i])
    redis.call('HSET', KEYS[i], unpack(ARGV, 5))
    redis.call('PEXPIRE', KEYS[i], ARGV[3])
end
redis.call('SET', KEYS[1], ARGV[4], 'PX', ARGV[3])
return 1
`)

// SetFields writes fields into the hash at key, leaving other fields untouched.
func (s *Store) SetFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.key(key), fields).Err(); err != nil {
		return unavailable("hset", key, err)
	}
	return nil
}

// GetAllFields returns the hash at key. A missing key yields an empty map.
func (s *Store) GetAllFields(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, unavailable("hgetall", key, err)
	}
	return fields, nil
}

// TakeAllFields returns the hash at key and deletes it in one transaction.
// A missing key yields an empty map, so only one of several concurrent takes
// sees the fields.
func (s *Store) TakeAllFields(ctx context.Context, key string) (map[string]string, error) {
	var get *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGetAll(ctx, s.key(key))
		pipe.Del(ctx, s.key(key))
		return nil
	})
	if err != nil {
		return nil, unavailable("take", key, err)
	}
	return get.Val(), nil
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, s.key(k))
	}
	if err := s.client.Del(ctx, prefixed...).Err(); err != nil {
		return unavailable("del", keys[0], err)
	}
	return nil
}

// SetTTL makes key expire after ttl. A non-positive ttl deletes the key at once,
// since the record it holds is already stale.
func (s *Store) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	if err := s.client.PExpire(ctx, s.key(key), ttl).Err(); err != nil {
		return unavailable("pexpire", key, err)
	}
	return nil
}

// ReplaceLinked performs r in a single server-side script.
func (s *Store) ReplaceLinked(ctx context.Context, r Replacement) error {
	if r.Pointer == "" || len(r.Keys) == 0 || len(r.Fields) == 0 {
		return logger.LogErr(errors.New("replacement requires a pointer, keys and fields"))
	}

	keys := make([]string, 0, len(r.Keys)+1)
	keys = append(keys, s.key(r.Pointer))
	for _, k := range r.Keys {
		keys = append(keys, s.key(k))
	}

	args := make([]interface{}, 0, 4+2*len(r.Fields))
	args = append(args, s.prefix, r.Link, strconv.FormatInt(r.TTL.Milliseconds(), 10), r.Keys[0])
	for f, v := range r.Fields {
		args = append(args, f, v)
	}

	if err := replaceLinkedScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return unavailable("replace", r.Pointer, err)
	}
	return nil
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func unavailable(op, key string, err error) error {
	return logger.LogErr(fmt.Errorf("%w: %s %q: %w", ErrUnavailable, op, key, err))
}
