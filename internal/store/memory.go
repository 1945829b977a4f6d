package store

import "sync"

// MemoryState is a concurrency-safe in-memory field.StateStore. Nothing
// survives a restart, so it is only suitable for tests and one-off runs.
type MemoryState struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryState creates an empty MemoryState.
func NewMemoryState() *MemoryState {
	return &MemoryState{data: make(map[string]string)}
}

func (s *MemoryState) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryState) Put(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryState) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
