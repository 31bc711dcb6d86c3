package room

import "sync"

// RejectedCodes remembers room codes that were confirmed not to exist so
// repeat student joins can be refused without a store query. Entries are
// never aged out; only Reset clears them.
type RejectedCodes struct {
	mu    sync.RWMutex
	codes map[string]struct{}
}

// NewRejectedCodes creates an empty set
func NewRejectedCodes() *RejectedCodes {
	return &RejectedCodes{codes: make(map[string]struct{})}
}

func (s *RejectedCodes) Add(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = struct{}{}
}

func (s *RejectedCodes) Contains(code string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codes[code]
	return ok
}

func (s *RejectedCodes) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codes)
}

// Reset clears the set and returns how many codes it held.
func (s *RejectedCodes) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.codes)
	s.codes = make(map[string]struct{})
	return n
}
