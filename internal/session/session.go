// Package session persists conversation history in PostgreSQL. A session
// is owned by one user and holds the ordered message transcript the agent
// replays as model context on the next turn.
package session

import (
	"errors"
	"time"

	"github.com/arunsv/persona/internal/llm"
)

// ErrNotFound indicates the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one conversation thread.
type Session struct {
	ID     string
	UserID string

	// Meta holds free-form attributes such as the device fingerprint
	// details the chat API records on first contact.
	Meta map[string]any

	// Messages is the append-only transcript. The system prompt is not
	// stored; it is rebuilt from configuration on every turn.
	Messages []llm.Message

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is the listing projection of a session.
type Summary struct {
	ID        string         `json:"id"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
