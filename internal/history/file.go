package history

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
)

type sessionIndex struct {
	Sessions map[string]sessionMeta `json:"sessions"`
}

type sessionMeta struct {
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FileStore appends one JSON line per message to sessions/<id>.jsonl and
// maintains an index written atomically. The store directory is guarded
// by a file lock so two processes cannot interleave writes.
type FileStore struct {
	baseDir string
	lock    *flock.Flock

	mu    sync.Mutex
	index sessionIndex
}

// NewFileStore locks dir and loads the session index. The lock is held
// for the store's lifetime and released by Close.
func NewFileStore(cfg config.HistoryConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, jerrors.Config("history dir is empty")
	}

	sessionsDir := filepath.Join(cfg.Dir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, jerrors.Wrap(err, "create history dir")
	}

	lock := flock.New(filepath.Join(cfg.Dir, "history.lock"))
	if err := acquireWithRetry(lock, cfg); err != nil {
		return nil, err
	}

	s := &FileStore{
		baseDir: cfg.Dir,
		lock:    lock,
		index:   sessionIndex{Sessions: make(map[string]sessionMeta)},
	}

	if err := s.loadIndex(); err != nil {
		slog.Warn("History index unreadable, rebuilding", "error", err)
	}

	return s, nil
}

func acquireWithRetry(lock *flock.Flock, cfg config.HistoryConfig) error {
	timeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultHistoryLockTimeout)
	if err != nil {
		return jerrors.Config("invalid history lock_timeout: %v", err)
	}
	retry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultHistoryLockRetry)
	if err != nil {
		return jerrors.Config("invalid history lock_retry: %v", err)
	}
	maxRetry := cfg.LockMaxRetry
	if maxRetry <= 0 {
		maxRetry = config.DefaultHistoryLockMaxRetry
	}

	deadline := time.Now().Add(timeout)
	for i := 0; i < maxRetry; i++ {
		locked, err := lock.TryLock()
		if err != nil {
			return jerrors.Wrap(err, "attempt history lock")
		}
		if locked {
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(retry)
	}

	return jerrors.Config("history dir %s is locked by another instance", filepath.Dir(lock.Path()))
}

func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var idx sessionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	if idx.Sessions == nil {
		idx.Sessions = make(map[string]sessionMeta)
	}
	s.index = idx
	return nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.baseDir, "sessions", "index.json")
}

func (s *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(s.baseDir, "sessions", sessionID+".jsonl")
}

func (s *FileStore) Save(ctx context.Context, msg Message) error {
	if err := ValidateSessionID(msg.SessionID); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return jerrors.Internal("encode message: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.sessionPath(msg.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return jerrors.Wrap(err, "open transcript")
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return jerrors.Wrap(err, "append transcript")
	}
	if err := f.Sync(); err != nil {
		return jerrors.Wrap(err, "sync transcript")
	}

	meta := s.index.Sessions[msg.SessionID]
	meta.MessageCount++
	meta.UpdatedAt = time.Now().UTC()
	s.index.Sessions[msg.SessionID] = meta

	if err := s.saveIndex(); err != nil {
		slog.Warn("Failed to update history index", "session", msg.SessionID, "error", err)
	}
	return nil
}

func (s *FileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.indexPath(), bytes.NewReader(data))
}

func (s *FileStore) List(ctx context.Context, sessionID string) ([]Message, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		return nil, jerrors.Wrap(err, "read transcript")
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	messages := make([]Message, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			slog.Warn("Skipping corrupt transcript line", "session", sessionID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *FileStore) Sessions(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.index.Sessions))
	for id := range s.index.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error {
	if s.lock != nil {
		return s.lock.Unlock()
	}
	return nil
}
