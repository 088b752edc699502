// ABOUTME: Conversation metadata and per-send options
// ABOUTME: Shared by the lifecycle manager and the backend client

package chat

import "time"

// Conversation describes a backend conversation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SendOptions carries the optional parameters of a single send.
type SendOptions struct {
	// Model overrides the backend's default model. Empty means no override.
	Model string
	// Attachment is plain text appended to the prompt server-side.
	Attachment string
}
