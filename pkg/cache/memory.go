package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value      []byte
	expiration int64
}

func (i item) expired(now int64) bool {
	return i.expiration != 0 && now > i.expiration
}

type memoryStore struct {
	mu       sync.RWMutex
	items    map[string]item
	maxItems int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func newMemoryStore(maxItems int, cleanupInterval time.Duration) *memoryStore {
	s := &memoryStore{
		items:    make(map[string]item),
		maxItems: maxItems,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanup(cleanupInterval)
	}
	return s
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, found := s.items[key]
	if !found || it.expired(s.now().UnixNano()) {
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp int64
	if ttl > 0 {
		exp = s.now().Add(ttl).UnixNano()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; !exists && s.maxItems > 0 && len(s.items) >= s.maxItems {
		s.evictOldest()
	}
	s.items[key] = item{value: append([]byte(nil), value...), expiration: exp}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *memoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *memoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.deleteExpired()
		}
	}
}

func (s *memoryStore) deleteExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixNano()
	for k, v := range s.items {
		if v.expired(now) {
			delete(s.items, k)
		}
	}
}

// evictOldest drops the entry that expires first. Caller holds the lock.
func (s *memoryStore) evictOldest() {
	var oldestKey string
	var oldest int64
	first := true
	for k, v := range s.items {
		if v.expiration == 0 {
			continue
		}
		if first || v.expiration < oldest {
			oldestKey, oldest, first = k, v.expiration, false
		}
	}
	if first {
		// nothing expires, drop an arbitrary entry
		for k := range s.items {
			oldestKey = k
			break
		}
	}
	delete(s.items, oldestKey)
}
