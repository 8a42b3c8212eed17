package service

import "sync"

// CounterStore is a process-wide usage counter keyed by owner and action.
// It is injected rather than held as package state so multi-process
// deployments can swap in an externalized implementation.
type CounterStore interface {
	Incr(key string) int64
	Get(key string) int64
}

// MemoryCounterStore keeps counters in an in-process map. Suitable for
// single-process deployments only.
type MemoryCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounterStore returns an empty MemoryCounterStore.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counts: make(map[string]int64)}
}

// Incr adds one to the counter and returns the new value.
func (s *MemoryCounterStore) Incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[key]++
	return s.counts[key]
}

// Get returns the current value without modifying it.
func (s *MemoryCounterStore) Get(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}
