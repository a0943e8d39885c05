package cache

import (
	"context"
	"errors"
	"time"

	"github.com/coocood/freecache"
)

// minMemoryBytes is the smallest size freecache accepts.
const minMemoryBytes = 512 * 1024

// Memory is an in-process cache backed by freecache.
type Memory struct {
	cache *freecache.Cache
}

// NewMemory creates a cache holding at most sizeBytes of entries.
func NewMemory(sizeBytes int) *Memory {
	if sizeBytes < minMemoryBytes {
		sizeBytes = minMemoryBytes
	}
	return &Memory{cache: freecache.NewCache(sizeBytes)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, err := m.cache.Get([]byte(key))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, ErrMiss
	}
	return v, err
}

// Set stores value; a ttl of zero keeps the entry until it is evicted.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return m.cache.Set([]byte(key), value, expireSeconds(ttl))
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Del([]byte(key))
	return nil
}

func (m *Memory) Close() error {
	m.cache.Clear()
	return nil
}

// expireSeconds rounds sub-second ttls up so they do not mean "never expire".
func expireSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	s := int(ttl / time.Second)
	if ttl%time.Second != 0 {
		s++
	}
	return s
}
