package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// MemoryStore keeps buckets in process. Each bucket has its own lock so
// different identifiers never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	idleAfter time.Duration
	now       func() time.Time
	stopCh    chan struct{}
	stopOnce  sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore starts a store that evicts buckets untouched for idleAfter.
// A non-positive idleAfter disables eviction.
func NewMemoryStore(idleAfter time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:   make(map[string]*bucket),
		idleAfter: idleAfter,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	if idleAfter > 0 {
		go s.cleanupLoop()
	}
	return s
}

// Stop ends the eviction goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) Take(_ context.Context, key string, tier Tier, now time.Time) (bool, float64, error) {
	b, created := s.getOrCreate(key, tier, now)
	if created {
		return true, tier.Capacity - 1, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = refill(b.tokens, b.lastRefill, now, tier)
	b.lastRefill = now
	b.lastAccess = s.now()
	if b.tokens >= 1 {
		b.tokens--
		return true, b.tokens, nil
	}
	return false, b.tokens, nil
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

func (s *MemoryStore) getOrCreate(key string, tier Tier, now time.Time) (*bucket, bool) {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		return b, false
	}
	b = &bucket{tokens: tier.Capacity - 1, lastRefill: now, lastAccess: s.now()}
	s.buckets[key] = b
	return b, true
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.idleAfter)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) evictIdle() {
	cutoff := s.now().Add(-s.idleAfter)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		b.mu.Lock()
		idle := b.lastAccess.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(s.buckets, key)
		}
	}
}
