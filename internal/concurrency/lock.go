// Package concurrency provides small synchronization helpers shared by the
// agent and the adapters.
package concurrency

import "sync"

// SessionLocks serializes processing per session ID, so two concurrent
// requests for the same conversation never interleave their history writes.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *SessionLocks) Lock(sessionID string) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
}

func (s *SessionLocks) Unlock(sessionID string) {
	s.mu.Lock()
	lock, ok := s.locks[sessionID]
	s.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}
