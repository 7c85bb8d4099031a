package outbox

import "sync"

// keySet is a concurrency safe set mutated only through add-if-absent and remove.
type keySet[K comparable] struct {
	mu   sync.Mutex
	keys map[K]struct{}
}

func newKeySet[K comparable]() *keySet[K] {
	return &keySet[K]{keys: make(map[K]struct{})}
}

// tryAdd adds k and reports whether it was absent.
func (s *keySet[K]) tryAdd(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = struct{}{}
	return true
}

func (s *keySet[K]) remove(k K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, k)
}

func (s *keySet[K]) contains(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[k]
	return ok
}

func (s *keySet[K]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *keySet[K]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.keys)
}
