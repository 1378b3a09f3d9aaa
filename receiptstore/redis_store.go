package receiptstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultRedisNamespace prefixes every key a RedisStore writes.
const DefaultRedisNamespace = "filexfer:"

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(fmt.Errorf("receiptstore: cbor enc mode: %w", err))
	}
	return em
}

// RedisStore keeps receipts in Redis, CBOR-encoded, under a namespace so it
// can share a database with other data. Concurrent misses within this process
// share one fetch; the write-back uses SETNX so a fetched receipt never
// overwrites one recorded by Put in the meantime.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
	group     singleflight.Group
}

// NewRedisStore creates a Redis-backed Store.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, 24*time.Hour, "")
//
// Parameters:
//   - client: Connected go-redis client
//   - ttl: Expiry for each receipt; 0 means no expiry
//   - namespace: Key prefix; empty selects DefaultRedisNamespace
//
// Returns:
//   - A new *RedisStore
func NewRedisStore(client *redis.Client, ttl time.Duration, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}

	return &RedisStore{
		client:    client,
		ttl:       ttl,
		namespace: namespace,
	}
}

func (s *RedisStore) Put(ctx context.Context, r Receipt) error {
	data, err := encMode.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode receipt: %w", err)
	}

	if err := s.client.Set(ctx, s.namespace+r.Key(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

func (s *RedisStore) GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc) (Receipt, error) {
	r, found, err := s.get(ctx, key)
	if err != nil || found {
		return r, err
	}

	val, err, _ := s.group.Do(key, func() (interface{}, error) {
		fetched, err := fetchFn(ctx)
		if err != nil {
			return Receipt{}, err
		}

		data, err := encMode.Marshal(fetched)
		if err != nil {
			return Receipt{}, fmt.Errorf("failed to encode receipt: %w", err)
		}

		stored, err := s.client.SetNX(ctx, s.namespace+key, data, s.ttl).Result()
		if err != nil {
			return Receipt{}, fmt.Errorf("redis setnx error: %w", err)
		}
		if !stored {
			current, found, err := s.get(ctx, key)
			if err != nil {
				return Receipt{}, err
			}
			if found {
				return current, nil
			}
		}

		return fetched, nil
	})
	if err != nil {
		return Receipt{}, err
	}

	return val.(Receipt), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.namespace+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scan(ctx, s.namespace+prefix)
	if err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}

	return int(deleted), nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx, s.namespace)
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

// Clear removes only this store's namespace, never the whole database.
func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.DeleteByPrefix(ctx, "")
	return err
}

func (s *RedisStore) get(ctx context.Context, key string) (Receipt, bool, error) {
	data, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, fmt.Errorf("redis get error: %w", err)
	}

	var r Receipt
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Receipt{}, false, fmt.Errorf("failed to decode receipt: %w", err)
	}

	return r, true, nil
}

func (s *RedisStore) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if key := iter.Val(); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return keys, nil
}

var _ Store = (*RedisStore)(nil)
