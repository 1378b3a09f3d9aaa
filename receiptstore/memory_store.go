package receiptstore

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryStore keeps receipts in process memory using go-cache. Concurrent
// misses on the same key share one fetch through singleflight.
type MemoryStore struct {
	cache *cache.Cache
	group singleflight.Group
}

// NewMemoryStore creates an in-memory Store.
//
// Parameters:
//   - ttl: How long a receipt is kept (cache.NoExpiration keeps it forever)
//   - cleanupInterval: Interval at which expired receipts are purged
//
// Returns:
//   - A new *MemoryStore
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.New(ttl, cleanupInterval),
	}
}

func (s *MemoryStore) Put(ctx context.Context, r Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Set(r.Key(), r, cache.DefaultExpiration)
	return nil
}

func (s *MemoryStore) GetOrFetch(ctx context.Context, key string, fetchFn FetchFunc) (Receipt, error) {
	if r, ok := s.get(key); ok {
		return r, nil
	}

	val, err, _ := s.group.Do(key, func() (interface{}, error) {
		// A Put or an earlier fetch may have landed while we waited.
		if r, ok := s.get(key); ok {
			return r, nil
		}

		r, err := fetchFn(ctx)
		if err != nil {
			return Receipt{}, err
		}

		s.cache.Set(key, r, cache.DefaultExpiration)
		return r, nil
	})
	if err != nil {
		return Receipt{}, err
	}

	return val.(Receipt), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Delete(key)
	return nil
}

func (s *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	for key := range s.cache.Items() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
			deleted++
		}
	}

	return deleted, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return s.cache.ItemCount(), nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Flush()
	return nil
}

func (s *MemoryStore) get(key string) (Receipt, bool) {
	val, found := s.cache.Get(key)
	if !found {
		return Receipt{}, false
	}

	r, ok := val.(Receipt)
	return r, ok
}

var _ Store = (*MemoryStore)(nil)
