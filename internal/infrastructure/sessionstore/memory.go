// Package sessionstore persists the single shielded-wallet session record.
package sessionstore

import (
	"context"

	"github.com/patrickmn/go-cache"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
)

// MemoryStore keeps the record for the lifetime of the process.
type MemoryStore struct {
	cache *cache.Cache
}

var _ port.SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an in-process store. Records never expire.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (*entity.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, found := s.cache.Get(key)
	if !found {
		return nil, nil
	}
	rec := v.(entity.SessionRecord)
	return &rec, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, record entity.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Set(key, record, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Delete(key)
	return nil
}
