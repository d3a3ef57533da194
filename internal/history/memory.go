package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/soratobu/jeeves/internal/config"
)

// MemoryStore keeps transcripts in process memory. It backs tests and
// serves as the fallback when the file store cannot start.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Message)}
}

func (s *MemoryStore) Save(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[msg.SessionID] = append(s.sessions[msg.SessionID], msg)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// NewStore builds the configured backend, degrading to the in-memory
// store with a warning when the file store cannot start.
func NewStore(cfg config.HistoryConfig) Store {
	if cfg.InMemory {
		return NewMemoryStore()
	}

	fs, err := NewFileStore(cfg)
	if err != nil {
		slog.Warn("File history unavailable, falling back to in-memory store", "dir", cfg.Dir, "error", err)
		return NewMemoryStore()
	}
	return fs
}
