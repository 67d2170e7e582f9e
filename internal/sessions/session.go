// Package sessions persists conversation metadata and transcripts for the
// gateway. The in-memory context window is the source of truth during a
// request; this store is the durable surface for listing and replay.
package sessions

import (
	"time"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// Session holds metadata about a conversation session. Context carries the
// structured per-user context (timezone, location, preferences) that planning
// folds into its cache key.
type Session struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Status       SessionStatus     `json:"status"`
	Model        string            `json:"model,omitempty"`
	MessageCount int               `json:"message_count"`
	Context      map[string]string `json:"context,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Message is a single turn in a conversation, serializable to JSONL.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Ts      time.Time `json:"ts"`
}

// Store defines the persistence interface for sessions.
type Store interface {
	Create() (*Session, error)
	Ensure(id string) (*Session, error)
	Get(id string) (*Session, error)
	List() ([]*Session, error)
	UpdateMeta(s *Session) error
	Close(id string) error
	AppendMessage(sessionID string, msg Message) error
	LoadMessages(sessionID string) ([]Message, error)
}
