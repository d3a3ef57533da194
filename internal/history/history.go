// Package history persists conversation transcripts per session. The
// default backend appends JSON lines under a locked directory; an
// in-memory store serves as a transparent fallback.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	jerrors "github.com/soratobu/jeeves/internal/errors"
)

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage stamps a message with a fresh ulid and the current time.
func NewMessage(sessionID, role, content string) Message {
	return Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// ValidateSessionID rejects ids that could name a path outside the
// transcript directory. Session ids are opaque but become file names.
func ValidateSessionID(id string) error {
	if id == "" {
		return jerrors.Config("session id is empty")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") || id == "." {
		return jerrors.Config("session id %q contains path elements", id)
	}
	return nil
}

// Store is at-least-once durable storage ordered by insertion per session.
type Store interface {
	Save(ctx context.Context, msg Message) error
	List(ctx context.Context, sessionID string) ([]Message, error)
	Sessions(ctx context.Context) ([]string, error)
	Close() error
}
