// Package idempotency tracks already-processed event keys so platform
// redeliveries (Slack event retries, Telegram update replays) do not run
// the agent twice.
package idempotency

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// Store is a file-backed set of processed keys with expiry. Writes go
// through an atomic rename so a crash never leaves a torn file.
type Store struct {
	path string
	mu   sync.Mutex
	seen map[string]int64 // key -> expiry unix seconds
}

func NewStore(path string) (*Store, error) {
	s := &Store{path: path, seen: make(map[string]int64)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.seen)
}

// Save persists the current key set.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(s.seen)
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}

// CheckAndMark reports whether key was already processed, and marks it
// processed for ttl if it was not.
func (s *Store) CheckAndMark(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	if expiry, ok := s.seen[key]; ok && expiry > now {
		return true
	}
	s.seen[key] = now + int64(ttl.Seconds())
	return false
}

// Prune drops expired keys and returns how many were removed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	removed := 0
	for key, expiry := range s.seen {
		if expiry < now {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}
