package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is the in-process fallback tier: a map guarded by a single
// mutex with per-entry expiry. Expired entries are evicted lazily on access;
// an optional janitor sweeps long-idle keys.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is swappable for expiry tests.
	now func() time.Time

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Value{}, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return Value{}, false, nil
	}
	return Decode(entry.value), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value Value, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired. Drop any live entry so readers see a miss.
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil
	}
	s.mu.Lock()
	s.entries[key] = memoryEntry{value: value.Encode(), expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	if ok && now.Before(entry.expiresAt) {
		count := Decode(entry.value).Int64() + 1
		// The expiry set by the first writer in the window stays fixed.
		s.entries[key] = memoryEntry{value: strconv.FormatInt(count, 10), expiresAt: entry.expiresAt}
		return count, nil
	}
	s.entries[key] = memoryEntry{value: "1", expiresAt: now.Add(ttl)}
	return 1, nil
}

// StartJanitor launches a background sweep that removes expired entries
// every interval. Useful for memory hygiene when keys go idle for long
// periods; correctness never depends on it.
func (s *MemoryStore) StartJanitor(interval time.Duration) {
	s.janitorOnce.Do(func() {
		s.stopJanitor = make(chan struct{})
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.sweep()
				case <-s.stopJanitor:
					return
				}
			}
		}()
	})
}

// StopJanitor stops a janitor started with StartJanitor.
func (s *MemoryStore) StopJanitor() {
	if s.stopJanitor != nil {
		close(s.stopJanitor)
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Len reports the number of live plus not-yet-swept entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
